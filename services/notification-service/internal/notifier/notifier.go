package notifier

import (
	"fmt"
	"log"
	"time"
)

// Notifier delivers a human readable message to the parties of a booking.
type Notifier interface {
	Notify(subject, message string) error
}

// ConsoleNotifier writes notifications to the process log.
type ConsoleNotifier struct{}

func NewConsole() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (c *ConsoleNotifier) Notify(subject, message string) error {
	log.Printf("[notify] %s :: %s\n", subject, message)
	return nil
}

// SessionRange formats a session window in UTC, e.g. "2025-03-03 10:00-11:00 UTC".
func SessionRange(startUnix, endUnix int64) string {
	st := time.Unix(startUnix, 0).UTC()
	et := time.Unix(endUnix, 0).UTC()
	if st.YearDay() != et.YearDay() || st.Year() != et.Year() {
		return fmt.Sprintf("%s-%s UTC", st.Format("2006-01-02 15:04"), et.Format("2006-01-02 15:04"))
	}
	return fmt.Sprintf("%s-%s UTC", st.Format("2006-01-02 15:04"), et.Format("15:04"))
}

// Money renders an amount in the smallest currency unit.
func Money(amount int64, currency string) string {
	switch currency {
	case "IDR", "JPY", "KRW":
		return fmt.Sprintf("%d %s", amount, currency)
	}
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}
