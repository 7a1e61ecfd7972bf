package conversation

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var (
	greetings = []string{"أهلاً بك! ", "مرحباً! ", "أهلاً وسهلاً! ", ""}
	closings  = []string{
		" شكراً لاختيارك استراحة السلام.",
		" نحن هنا لمساعدتك.",
		" هل هناك أي شيء آخر يمكنني مساعدتك به؟",
		"",
	}
)

// Composer renders the assistant's Arabic replies. Templates are fixed; the
// optional variation only adds a greeting or closing.
type Composer struct {
	price int

	vary bool
	mu   sync.Mutex
	rnd  *rand.Rand
}

// NewComposer builds a composer. rnd may be nil; it is only used when vary is set.
func NewComposer(price int, vary bool, rnd *rand.Rand) *Composer {
	if price <= 0 {
		price = 250
	}
	if vary && rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Composer{price: price, vary: vary, rnd: rnd}
}

// Decorate prepends a greeting and appends a closing, each with 30% chance.
func (c *Composer) Decorate(reply string) string {
	if !c.vary || c.rnd == nil {
		return reply
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rnd.Float64() > 0.7 {
		reply = greetings[c.rnd.Intn(len(greetings))] + reply
	}
	if c.rnd.Float64() > 0.7 {
		reply += closings[c.rnd.Intn(len(closings))]
	}
	return reply
}

func (c *Composer) Welcome() string {
	return "مرحباً بك في نظام حجز استراحة السلام. يمكنني مساعدتك في حجز الاستراحة، أو الاستعلام عن حجز موجود، أو إلغائه. كيف يمكنني مساعدتك اليوم؟"
}

func (c *Composer) Restarted() string {
	return "تم بدء محادثة جديدة. " + c.Welcome()
}

func (c *Composer) AskDate() string {
	return fmt.Sprintf("أهلاً بك في نظام حجز استراحة السلام! سعر الحجز ليوم واحد هو %d دينار ليبي. يرجى تحديد التاريخ الذي ترغب في الحجز فيه بصيغة (YYYY-MM-DD).", c.price)
}

func (c *Composer) DateNotUnderstood() string {
	return "عذراً، لم أتمكن من فهم التاريخ. يرجى إدخال التاريخ بصيغة YYYY-MM-DD، مثال: 2025-12-31"
}

func (c *Composer) DatePast() string {
	return "عذراً، لا يمكن الحجز في تاريخ سابق. يرجى اختيار تاريخ مستقبلي."
}

func (c *Composer) DateTaken(date string) string {
	return fmt.Sprintf("عذراً، التاريخ %s غير متاح للحجز. يرجى اختيار تاريخ آخر.", date)
}

func (c *Composer) AskInfo(date string) string {
	return fmt.Sprintf("التاريخ %s متاح للحجز! يرجى تزويدنا بالمعلومات التالية في رسالة واحدة:\n- الاسم الكامل\n- رقم الهاتف\n- البريد الإلكتروني (لإرسال تأكيد الحجز)", date)
}

// MissingInfo names the fields that could not be found in the last message.
func (c *Composer) MissingInfo(name, phone, email bool) string {
	var missing []string
	if !name {
		missing = append(missing, "الاسم الكامل (بالعربية)")
	}
	if !phone {
		missing = append(missing, "رقم الهاتف (10 أرقام على الأقل)")
	}
	if !email {
		missing = append(missing, "البريد الإلكتروني")
	}
	return "عذراً، يرجى تقديم جميع المعلومات المطلوبة في رسالة واحدة. لم أتمكن من التعرف على: " + strings.Join(missing, "، ")
}

func (c *Composer) ConfirmDetails(s *Session) string {
	return fmt.Sprintf("شكراً لتقديم معلوماتك. يرجى تأكيد تفاصيل الحجز التالية:\n\n- الاسم: %s\n- رقم الهاتف: %s\n- البريد الإلكتروني: %s\n- تاريخ الحجز: %s\n- السعر: %d د.ل\n\nهل تريد تأكيد الحجز؟ (نعم/لا)",
		s.CustomerName, s.CustomerPhone, s.CustomerEmail, s.BookingDate, c.price)
}

func (c *Composer) BookingAborted() string {
	return "تم إلغاء عملية الحجز. يمكنك بدء عملية حجز جديدة في أي وقت."
}

// BookingCreated asks for the OTP. When the email could not be sent the code
// is shown inline so the booking can still be verified.
func (c *Composer) BookingCreated(s *Session, emailSent bool) string {
	reply := fmt.Sprintf("تم إنشاء حجزك بنجاح! رقم الحجز الخاص بك هو: %s\n\nلقد أرسلنا رمز التحقق إلى بريدك الإلكتروني %s. يرجى إدخال رمز التحقق المكون من 4 أرقام لتأكيد حجزك.",
		s.BookingReference, s.CustomerEmail)
	if !emailSent {
		reply += "\n\nملاحظة: لم نتمكن من إرسال رمز التحقق عبر البريد الإلكتروني. يرجى استخدام الرمز التالي: " + s.OTPCode
	}
	return reply
}

func (c *Composer) OTPNotUnderstood() string {
	return "عذراً، لم أتمكن من التعرف على رمز التحقق. يرجى إدخال الرمز المكون من 4 أرقام الذي تم إرساله إلى بريدك الإلكتروني."
}

func (c *Composer) OTPInvalid() string {
	return "عذراً، رمز التحقق غير صحيح أو منتهي الصلاحية. يرجى التحقق والمحاولة مرة أخرى."
}

// BookingConfirmed is the only reply that discloses the secret code.
func (c *Composer) BookingConfirmed(s *Session, emailSent bool) string {
	reply := fmt.Sprintf("تم تأكيد حجزك بنجاح!\n\nتفاصيل الحجز:\n- رقم الحجز: %s\n- تاريخ الحجز: %s\n- السعر: %d د.ل\n\nالرمز السري الخاص بك هو: %s\n\nاحتفظ بهذا الرمز للاستعلام عن حجزك أو إلغائه في المستقبل.\n\nشكراً لاختيارك استراحة السلام!",
		s.BookingReference, s.BookingDate, c.price, s.SecretCode)
	if !emailSent {
		reply += "\n\nملاحظة: لم نتمكن من إرسال بريد إلكتروني للتأكيد. يرجى الاحتفاظ بالرمز السري المعروض أعلاه."
	}
	return reply
}

func (c *Composer) AskSecretCode() string {
	return "يرجى إدخال الرمز السري المكون من 6 أرقام الخاص بحجزك للاستعلام عنه."
}

func (c *Composer) AskSecretCodeToCancel() string {
	return "يرجى إدخال الرمز السري المكون من 6 أرقام الخاص بالحجز الذي ترغب في إلغائه."
}

func (c *Composer) SecretCodeNotUnderstood() string {
	return "عذراً، لم أتمكن من التعرف على الرمز السري. يرجى إدخال الرمز السري المكون من 6 أرقام الذي تم إعطاؤه لك عند تأكيد الحجز."
}

func (c *Composer) BookingNotFound() string {
	return "عذراً، لم يتم العثور على حجز بهذا الرمز السري. اكتب \"من جديد\" للمحاولة مرة أخرى."
}

func statusLabel(status string) string {
	switch status {
	case "confirmed":
		return "مؤكد"
	case "pending":
		return "في الانتظار"
	case "cancelled":
		return "ملغي"
	default:
		return status
	}
}

func statusNote(b *BookingSnapshot) string {
	switch b.Status {
	case "confirmed":
		switch {
		case b.DaysRemaining > 0:
			return fmt.Sprintf("متبقي %d يوم على موعد حجزك.", b.DaysRemaining)
		case b.DaysRemaining == 0:
			return "حجزك هو اليوم!"
		default:
			return "انتهى موعد حجزك."
		}
	case "pending":
		return "حجزك في انتظار التأكيد."
	default:
		return "تم إلغاء حجزك."
	}
}

func bookingDetails(b *BookingSnapshot) string {
	return fmt.Sprintf("تفاصيل حجزك:\n- رقم الحجز: %s\n- تاريخ الحجز: %s\n- الحالة: %s\n- %s",
		b.Reference, b.Date, statusLabel(b.Status), statusNote(b))
}

func (c *Composer) BookingInfo(b *BookingSnapshot) string {
	return bookingDetails(b) + "\n\nشكراً لاستخدامك نظام حجز استراحة السلام!"
}

func (c *Composer) OfferCancellation(b *BookingSnapshot) string {
	return bookingDetails(b) + "\n\nهل ترغب في إلغاء هذا الحجز؟ (نعم/لا)"
}

func (c *Composer) ConfirmCancellation(b *BookingSnapshot) string {
	return bookingDetails(b) + "\n\nهل أنت متأكد من رغبتك في إلغاء هذا الحجز؟ (نعم/لا)"
}

func (c *Composer) AskYesNo() string {
	return "يرجى الرد بـ \"نعم\" أو \"لا\"."
}

func (c *Composer) BookingCancelled(s *Session) string {
	return fmt.Sprintf("تم إلغاء حجزك بنجاح!\n\nتفاصيل الحجز الملغي:\n- رقم الحجز: %s\n- تاريخ الحجز: %s\n\nشكراً لاستخدامك نظام حجز استراحة السلام. نأمل أن نراك قريباً!",
		s.BookingReference, s.BookingDate)
}

func (c *Composer) CancellationAborted() string {
	return "تم إلغاء عملية إلغاء الحجز. حجزك لا يزال قائماً."
}

func (c *Composer) CancellationFailed() string {
	return "عذراً، لا يمكن إلغاء هذا الحجز. يمكن إلغاء الحجوزات المؤكدة فقط. اكتب \"من جديد\" للبدء من جديد."
}

// ServiceError is the generic reply for failed collaborator calls.
func (c *Composer) ServiceError() string {
	return "عذراً، حدث خطأ أثناء معالجة طلبك. يرجى المحاولة مرة أخرى لاحقاً. اكتب \"من جديد\" للبدء من جديد."
}

// DeadEnd is repeated until the user restarts.
func (c *Composer) DeadEnd(stage Stage) string {
	switch stage {
	case StageBookingNotFound:
		return c.BookingNotFound()
	case StageDateUnavailable:
		return "عذراً، التاريخ المطلوب لم يعد متاحاً. اكتب \"من جديد\" لاختيار تاريخ آخر."
	default:
		return c.ServiceError()
	}
}
