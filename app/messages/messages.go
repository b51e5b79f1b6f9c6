// Package messages holds the Arabic user-facing texts. Everything is HTML
// parse mode; dynamic user-supplied values go through format.EscapeHTML
// before landing in a template.
package messages

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ourgoal/teambot/app/store"
	"github.com/ourgoal/teambot/core/telegram/format"
)

const timeLayout = "2006-01-02 15:04:05"

// Welcome opens the application flow above the team keyboard.
const Welcome = `مرحباً بك في بوت التقديم لتيمز Our Goal! 🎯

يسعدنا إنك حابب تكون جزء من فريقنا وتشاركنا في تحقيق النجاح.

اختار التيم اللي حابب تنضم له من الأزرار اللي تحت:`

// Unknown is the fallback for texts that match nothing.
const Unknown = `مرحبا بك في Our Goal! 🎯

يمكنك الضغط على /start للبدء من جديد أو /help لعرض المساعدة.`

const Cancelled = `تم إلغاء طلب التقديم.

يمكنك الضغط على /start للبدء من جديد.`

const NothingToCancel = `مفيش عملية جارية حالياً.

يمكنك الضغط على /start للبدء.`

const AlreadyApplied = `أنت قدمت طلب قبل كدا! 😊

هيتم مراجعة طلبك والرد عليك قريباً إن شاء الله.`

const AdminOnly = `معذرة، الأمر دا مخصص للادمن بس.`

const NoApplicationsYet = `لسه مفيش طلبات تقديم.`

const ErrorGeneric = `❌ <b>حدث خطأ</b>

عذراً، حدث خطأ أثناء معالجة طلبك. يرجى المحاولة مرة أخرى.

إذا استمر الخطأ، يرجى التواصل مع الإدارة.`

const Help = `📋 <b>مساعدة - Our Goal Bot</b>

🎯 <b>الأوامر المتاحة:</b>

• /start - بدء التقديم للتيمز
• /help - عرض هذه المساعدة
• /cancel - إلغاء العملية الحالية
• /status - عرض حالة طلباتك

<b>للإدارة فقط:</b>
• /stats - إحصائيات التقديمات
• /clear - مسح جميع التقديمات
• /broadcast - إرسال رسالة جماعية
• /ban و /unban - إدارة الحظر

💡 <b>كيفية الاستخدام:</b>
1. اضغط على /start للبدء
2. اختر التيم المناسب
3. اجب على الأسئلة المطلوبة
4. سيتم إرسال طلبك للإدارة`

const UserMessageDelivered = `✅ تم إرسال رسالتك للإدارة`

const UserMessageFailed = `❌ فشل في إرسال الرسالة`

const AdminReplyDelivered = `✅ تم إرسال الرد للمتقدم بنجاح`

const AdminReplyFailed = `❌ فشل في إرسال الرد للمتقدم`

const DecisionNotAdmin = `هذا الأمر مخصص للإدارة فقط`

const DecisionFailed = `حدث خطأ في معالجة القرار`

const AlreadyDecidedNotice = `تم البت في هذا الطلب بالفعل`

const BroadcastUsage = `📢 <b>إرسال رسالة جماعية</b>

الاستخدام: /broadcast نص الرسالة

⚠️ <b>تنبيه:</b> سيتم إرسال الرسالة لجميع المستخدمين الذين تفاعلوا مع البوت`

const BroadcastTooShort = `⚠️ الرسالة قصيرة جداً. يرجى كتابة رسالة أطول.`

const BroadcastNoRecipients = `❌ لا يوجد مستخدمين لإرسال الرسالة إليهم.`

const ClearDone = `✅ تم مسح جميع التقديمات والمحادثات.

يمكن للجميع التقديم من جديد.`

const ClearFailed = `❌ حدث خطأ أثناء مسح التقديمات`

const BanUsage = `الاستخدام: /ban معرف_المستخدم`

const UnbanUsage = `الاستخدام: /unban معرف_المستخدم`

// ReasonQuestion asks why the applicant wants the chosen team.
func ReasonQuestion(teamName string) string {
	return fmt.Sprintf(`ممتاز! اختارك لـ %s 👏

عشان نقدر نقيم طلبك بشكل أفضل، محتاجين نسألك كام سؤال:

السؤال الأول: ليه عايز تنضم لـ %s؟
إيه اللي خلاك تختار التيم دا تحديداً؟`,
		format.EscapeHTML(teamName), format.EscapeHTML(teamName))
}

// ExperienceQuestion follows a valid reason answer.
func ExperienceQuestion(teamName string) string {
	return fmt.Sprintf(`شكراً لإجابتك!

السؤال التاني: عندك أي خبرة أو مهارات متعلقة بشغل %s؟

لو عندك خبرة، اكتب عنها بالتفصيل.`,
		format.EscapeHTML(teamName))
}

// ReasonInvalid re-prompts when the reason answer fails validation.
func ReasonInvalid(min, max int) string {
	return fmt.Sprintf(`⚠️ الإجابة يجب أن تكون بين %d و %d حرف.

اكتب سبب انضمامك مرة أخرى:`, min, max)
}

// ExperienceInvalid re-prompts when the experience answer fails validation.
func ExperienceInvalid(min, max int) string {
	return fmt.Sprintf(`⚠️ الإجابة يجب أن تكون بين %d و %d حرف.

اكتب خبرتك مرة أخرى:`, min, max)
}

// Submitted confirms a stored application.
func Submitted(teamName string) string {
	return fmt.Sprintf(`تم تسليم طلبك بنجاح! 🎉

شكراً ليك على اهتمامك بالانضمام لـ %s.
هيتم مراجعة طلبك وهنرد عليك قريباً إن شاء الله.

نتمنى نشوفك معانا في التيم! 🤝`,
		format.EscapeHTML(teamName))
}

// UnknownTeam answers a selection callback whose team id is not configured.
const UnknownTeam = `⚠️ التيم المطلوب غير متاح حالياً. اضغط /start للمحاولة من جديد.`

// displayName joins first and last name.
func displayName(first, last string) string {
	if last == "" {
		return first
	}
	return first + " " + last
}

func usernameTag(username string) string {
	if username == "" {
		return "(لا يوجد username)"
	}
	return "(@" + format.EscapeHTML(username) + ")"
}

// AdminNotification is the application card posted to the admin group.
func AdminNotification(u store.User, app store.Application) string {
	return fmt.Sprintf(`🆕 <b>طلب تقديم جديد!</b>

👤 <b>المتقدم:</b> %s %s
🆔 <b>معرف المستخدم:</b> %d
🎯 <b>التيم:</b> %s

❓ <b>سبب الانضمام:</b>
%s

💼 <b>الخبرة:</b>
%s

📅 <b>وقت التقديم:</b> %s

💬 <b>للرد على المتقدم:</b> رد على هذه الرسالة وسيتم إرسال ردك إليه تلقائياً`,
		format.EscapeHTML(displayName(u.FirstName, u.LastName)),
		usernameTag(u.Username),
		u.ID,
		format.EscapeHTML(app.TeamName),
		format.EscapeHTML(app.Reason),
		format.EscapeHTML(app.Experience),
		app.SubmittedAt.Format(timeLayout),
	)
}

// Accepted is sent to the applicant on a positive decision.
func Accepted(teamName, adminName string, at time.Time) string {
	return fmt.Sprintf(`🎉 <b>تهانينا! تم قبول طلبك</b>

مرحباً بك في %s! 🎯

تم قبول طلبك للانضمام لفريقنا. نحن متحمسون لوجودك معنا!

سيتم التواصل معك قريباً من قبل مسؤول الفريق لإعطائك التفاصيل والخطوات التالية.

نتطلع للعمل معك! 🤝

---
✅ <b>تم الموافقة بواسطة:</b> %s
📅 <b>تاريخ القبول:</b> %s`,
		format.EscapeHTML(teamName), format.EscapeHTML(adminName), at.Format(timeLayout))
}

// Rejected is sent to the applicant on a negative decision.
func Rejected(teamName, adminName string, at time.Time) string {
	return fmt.Sprintf(`📝 <b>شكراً لك على اهتمامك</b>

نشكرك على تقديمك للانضمام لـ %s.

للأسف، لم نتمكن من قبول طلبك في الوقت الحالي. هذا لا يعني أن طلبك لم يكن جيداً، لكن لدينا عدد محدود من الأماكن المتاحة.

نشجعك على المحاولة مرة أخرى في المستقبل.

شكراً لك مرة أخرى! 🙏

---
❌ <b>تم الرفض بواسطة:</b> %s
📅 <b>تاريخ الرد:</b> %s`,
		format.EscapeHTML(teamName), format.EscapeHTML(adminName), at.Format(timeLayout))
}

// AcceptedMark and RejectedMark append to the admin card after a decision.
const (
	AcceptedMark = "✅ تم قبول المتقدم وإرسال رسالة التهنئة"
	RejectedMark = "❌ تم رفض المتقدم وإرسال رسالة مهذبة"
)

// AdminReply wraps the admin's text on its way to the applicant.
func AdminReply(text string, at time.Time) string {
	return fmt.Sprintf(`📩 <b>رد من فريق Our Goal:</b>

%s

---
📅 <b>وقت الرد:</b> %s

💡 <b>يمكنك الرد على هذه الرسالة وسيتم توصيلها للإدارة</b>`,
		format.EscapeHTML(text), at.Format(timeLayout))
}

// UserReply wraps the applicant's text on its way to the admin group.
func UserReply(u store.User, text string, at time.Time) string {
	return fmt.Sprintf(`💬 <b>رد من المتقدم:</b>

%s

---
👤 <b>من:</b> %s %s
🆔 <b>معرف المستخدم:</b> %d
📅 <b>وقت الرد:</b> %s`,
		format.EscapeHTML(text),
		format.EscapeHTML(displayName(u.FirstName, u.LastName)),
		usernameTag(u.Username),
		u.ID,
		at.Format(timeLayout))
}

// UserMediaHeader labels forwarded applicant media in the admin group.
func UserMediaHeader(u store.User, kind string) string {
	return fmt.Sprintf(`📎 <b>وسائط من المتقدم (%s):</b>
👤 %s %s — 🆔 %d`,
		format.EscapeHTML(kind),
		format.EscapeHTML(displayName(u.FirstName, u.LastName)),
		usernameTag(u.Username),
		u.ID)
}

// ChatEnded notifies the applicant that the bridge is closed.
func ChatEnded(adminName string, at time.Time) string {
	return fmt.Sprintf(`🔚 <b>تم إنهاء المحادثة</b>

تم إنهاء المحادثة من قبل الإدارة.

شكراً لك على تواصلك معنا! 🙏

---
🛑 <b>تم الإنهاء بواسطة:</b> %s
📅 <b>وقت الإنهاء:</b> %s`,
		format.EscapeHTML(adminName), at.Format(timeLayout))
}

// ChatEndedMark appends to the admin message after ending the bridge.
func ChatEndedMark(adminName string) string {
	return "🔚 تم إنهاء المحادثة بواسطة " + format.EscapeHTML(adminName)
}

// Status renders the applicant's own record.
func Status(u store.User, apps []store.Application) string {
	var list strings.Builder
	if len(apps) == 0 {
		list.WriteString("لا توجد طلبات بعد.")
	}
	for _, a := range apps {
		list.WriteString(fmt.Sprintf("🔹 %s — %s (%s)\n",
			format.EscapeHTML(a.TeamName),
			statusLabel(a.Status),
			a.SubmittedAt.Format("2006-01-02"),
		))
	}
	return fmt.Sprintf(`📋 <b>حالة طلباتك</b>

👤 <b>المستخدم:</b> %s
🆔 <b>معرف المستخدم:</b> %d

📊 <b>إجمالي الطلبات:</b> %d

<b>تفاصيل الطلبات:</b>
%s`,
		format.EscapeHTML(displayName(u.FirstName, u.LastName)),
		u.ID,
		len(apps),
		strings.TrimRight(list.String(), "\n"))
}

func statusLabel(s store.Status) string {
	switch s {
	case store.StatusAccepted:
		return "مقبول ✅"
	case store.StatusRejected:
		return "مرفوض ❌"
	default:
		return "قيد المراجعة ⏳"
	}
}

// StatsReport renders the aggregate counters for the admin group.
func StatsReport(st store.Stats, teamNames map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `📊 إحصائيات طلبات التقديم

إجمالي الطلبات: %d
عدد المتقدمين: %d

التفاصيل حسب التيم:
`, st.TotalApplications, st.TotalApplicants)
	ids := make([]string, 0, len(st.ByTeam))
	for id := range st.ByTeam {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		name := teamNames[id]
		if name == "" {
			name = id
		}
		fmt.Fprintf(&b, "🔹 %s: %d طلب\n", format.EscapeHTML(name), st.ByTeam[id])
	}
	fmt.Fprintf(&b, "\nقيد المراجعة: %d | مقبول: %d | مرفوض: %d",
		st.ByStatus[string(store.StatusPending)],
		st.ByStatus[string(store.StatusAccepted)],
		st.ByStatus[string(store.StatusRejected)],
	)
	return b.String()
}

// BroadcastResult summarizes a finished broadcast for the admin group.
func BroadcastResult(sent, failed int, at time.Time) string {
	return fmt.Sprintf(`✅ <b>تم إرسال الرسالة الجماعية بنجاح!</b>

📊 <b>الإحصائيات:</b>
• تم الإرسال لـ %d مستخدم
• فشل الإرسال لـ %d مستخدم

📅 <b>وقت الإرسال:</b> %s`, sent, failed, at.Format(timeLayout))
}

// BanDone confirms a ban flag change to the admin group.
func BanDone(userID int64, banned bool) string {
	if banned {
		return fmt.Sprintf("🚫 تم حظر المستخدم %d", userID)
	}
	return fmt.Sprintf("✅ تم رفع الحظر عن المستخدم %d", userID)
}
