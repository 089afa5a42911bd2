package models

import "time"

// DateLayout is the wire and storage format of birth dates.
const DateLayout = "2006-01-02"

// Contact is an address book entry owned by a single user.
type Contact struct {
	ID           int64
	UserID       int64
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	BirthDate    time.Time
	FriendStatus bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DaysToBirthday returns the number of whole days from today until the next
// occurrence of birth. A birthday falling on today returns 0. Feb 29 birthdays
// are celebrated on Feb 28 in non-leap years.
func DaysToBirthday(birth, today time.Time) int {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	next := anniversary(birth, today.Year())
	if next.Before(today) {
		next = anniversary(birth, today.Year()+1)
	}
	return int(next.Sub(today).Hours() / 24)
}

func anniversary(birth time.Time, year int) time.Time {
	month, day := birth.Month(), birth.Day()
	if month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
