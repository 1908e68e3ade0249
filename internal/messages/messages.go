// Package messages renders review notifications as text for the end user.
package messages

import (
	"fmt"

	"github.com/ubuntu/homework-notifier/internal/review"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. They double as the English text.
const (
	keyGlobalFailure       = "Global error: %s"
	keyUnidentifiedRecord  = "unknown submission with error: %s"
	keyNewSubmission       = "new submission under review: %s"
	keyNewUndetermined     = "new status of submission %s is undetermined!"
	keyStatusChanged       = "Review status of submission %q changed. %s"
	keyChangedUndetermined = "Undetermined status of submission: %s."

	verdictApproved     = "The work has been reviewed: the reviewer liked everything. Hooray!"
	verdictReviewing    = "The work has been taken for review."
	verdictRejected     = "The work has been reviewed: the reviewer left comments."
	verdictUndetermined = "Review status is undetermined."
)

var russian = map[string]string{
	keyGlobalFailure:       "Глобальная ошибка: %s",
	keyUnidentifiedRecord:  "Получили неизвестную домашку с ошибкой: %s",
	keyNewSubmission:       "На проверке новая домашка: %s",
	keyNewUndetermined:     "Новый статус домашки %s не определён!",
	keyStatusChanged:       "Изменился статус проверки работы %q. %s",
	keyChangedUndetermined: "Неопределённый статус домашки: %s.",

	verdictApproved:     "Работа проверена: ревьюеру всё понравилось. Ура!",
	verdictReviewing:    "Работа взята на проверку ревьюером.",
	verdictRejected:     "Работа проверена: у ревьюера есть замечания.",
	verdictUndetermined: "Статус проверки не определён.",

	review.Unreachable.String():    "API Яндекс Практикум недоступен",
	review.StatusCode.String():     "Сбой API Яндекс Практикум, неверный статус код",
	review.EmptyResponse.String():  "Пустой ответ от API Яндекс",
	review.WrongType.String():      "Неверный тип ответа от API Яндекс",
	review.MissingKey.String():     "Отсутствие нужных ключей от API Яндекс",
	review.WrongValueType.String(): "Неподходящий тип ответа от API Яндекс",

	review.WrongRecord.String():   "Неправильная запись ДЗ",
	review.EmptyRecord.String():   "Пустая запись ДЗ",
	review.MissingName.String():   "Нет нужного ключа в записи ДЗ",
	review.UnknownStatus.String(): "Неизвестный статус в записи ДЗ",
}

// verdicts is the closed verdict table.
var verdicts = map[review.Status]string{
	review.StatusApproved:  verdictApproved,
	review.StatusReviewing: verdictReviewing,
	review.StatusRejected:  verdictRejected,
}

var supported = []language.Tag{language.English, language.Russian}

var cat = newCatalog()

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range russian {
		if err := b.SetString(language.Russian, key, text); err != nil {
			panic(fmt.Sprintf("invalid russian message %q: %v", key, err))
		}
	}
	return b
}

// Printer renders notifications in one language.
type Printer struct {
	p *message.Printer
}

// New returns a Printer for the closest supported language to lang.
// An unparsable or unsupported lang falls back to English.
func New(lang string) *Printer {
	tag, _, _ := language.NewMatcher(supported).Match(language.Make(lang))
	base, _ := tag.Base()
	tag = language.Make(base.String())
	return &Printer{p: message.NewPrinter(tag, message.Catalog(cat))}
}

// Verdict returns the phrase for a status. Statuses outside the verdict table,
// including review.StatusUnknown, get a fixed undetermined phrase.
func (p *Printer) Verdict(s review.Status) string {
	key, ok := verdicts[s]
	if !ok {
		key = verdictUndetermined
	}
	return p.p.Sprintf(key)
}

// Render returns the text of a single notification.
func (p *Printer) Render(n review.Notification) string {
	switch n.Kind {
	case review.GlobalFailure:
		return p.p.Sprintf(keyGlobalFailure, p.p.Sprintf(n.Global.String()))
	case review.UnidentifiedRecord:
		return p.p.Sprintf(keyUnidentifiedRecord, p.p.Sprintf(n.Record.String()))
	case review.NewSubmission:
		return p.p.Sprintf(keyNewSubmission, n.Name)
	case review.NewUndetermined:
		return p.p.Sprintf(keyNewUndetermined, n.Name)
	case review.StatusChanged:
		return p.p.Sprintf(keyStatusChanged, n.Name, p.Verdict(n.Status))
	case review.ChangedUndetermined:
		return p.p.Sprintf(keyChangedUndetermined, n.Name)
	default:
		return fmt.Sprintf("unsupported notification kind %d", int(n.Kind))
	}
}

// RenderAll renders notifications, keeping their order.
func (p *Printer) RenderAll(notes []review.Notification) []string {
	msgs := make([]string, 0, len(notes))
	for _, n := range notes {
		msgs = append(msgs, p.Render(n))
	}
	return msgs
}
