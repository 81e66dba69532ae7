package notify

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/centromex/rental-bot/internal/models"
)

// StatusMessage is the reply sent when a request reaches status s.
func StatusMessage(s models.Status) string {
	return fmt.Sprintf("Your order is %s!", cases.Title(language.English).String(string(s)))
}
