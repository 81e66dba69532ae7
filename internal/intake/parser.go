// Package intake turns chat messages into rental requests.
//
// A submission looks like
//
//	#rent name,product name,rent or buy,phone no,query
//
// The prefix may be #rent or #buy. It only marks the message as a submission;
// the mode comes from the third field.
package intake

import (
	"errors"
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/centromex/rental-bot/internal/models"
	"github.com/centromex/rental-bot/internal/table"
)

// MaxFieldLength bounds every free-text field of a submission.
const (
	MaxFieldLength = 512
	fieldCount     = 5
)

var prefixes = []string{"#rent", "#buy"}

// Parse errors. ReplyFor maps each to a chat reply.
var (
	ErrNotSubmission = errors.New("message is not a submission")
	ErrFieldCount    = errors.New("submission must have exactly 5 comma-separated fields")
	ErrInvalidMode   = errors.New("third field must be rent or buy")
	ErrFieldTooLong  = errors.New("submission field too long")
)

// Submission is a parsed request before it is stored.
type Submission struct {
	Name        string `validate:"max=512"`
	ProductName string `validate:"max=512"`
	Mode        string `validate:"oneof=Rent Buy"`
	Phone       string `validate:"max=512"`
	Query       string `validate:"max=512"`
}

// Record builds the stored record for a submission posted as message id.
func (s Submission) Record(id int64) models.Record {
	return models.NewRecord(id, s.Name, s.ProductName, models.Mode(s.Mode), s.Phone, s.Query)
}

var (
	validate = validatorv10.New()
	title    = cases.Title(language.English)
)

// IsSubmission reports whether text carries a submission prefix.
func IsSubmission(text string) bool {
	_, ok := stripPrefix(text)
	return ok
}

// Parse validates a submission message.
func Parse(text string) (Submission, error) {
	body, ok := stripPrefix(text)
	if !ok {
		return Submission{}, ErrNotSubmission
	}

	parts := strings.Split(body, ",")
	if len(parts) != fieldCount {
		return Submission{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	sub := Submission{
		Name:        parts[0],
		ProductName: parts[1],
		Mode:        title.String(parts[2]),
		Phone:       parts[3],
		Query:       parts[4],
	}
	if err := validate.Struct(sub); err != nil {
		return Submission{}, validationError(err)
	}
	return sub, nil
}

func stripPrefix(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(text[len(p):]), true
		}
	}
	return "", false
}

func validationError(err error) error {
	var fieldErrs validatorv10.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	// Mode is checked first so a bad mode wins over an overlong field.
	for _, fe := range fieldErrs {
		if fe.Field() == "Mode" {
			return fmt.Errorf("%w: %q", ErrInvalidMode, fe.Value())
		}
	}
	fe := fieldErrs[0]
	return fmt.Errorf("%w: %s exceeds %s characters", ErrFieldTooLong, fe.Field(), fe.Param())
}

// ReplyFor returns the chat reply for the outcome of handling a submission.
func ReplyFor(err error) string {
	switch {
	case err == nil:
		return "Message recorded successfully!"
	case errors.Is(err, ErrFieldCount):
		return "Invalid format! Please use: #rent name,product name,rent or buy,phone no,query"
	case errors.Is(err, ErrInvalidMode):
		return "Please specify 'rent' or 'buy' in the third field."
	case errors.Is(err, ErrFieldTooLong):
		return fmt.Sprintf("Each field can be at most %d characters.", MaxFieldLength)
	case errors.Is(err, table.ErrDuplicateID):
		// A new message gets a new ID.
		return "This message's ID is already taken by another request. Please send it again as a new message."
	default:
		return "Error processing message. Please try again."
	}
}
