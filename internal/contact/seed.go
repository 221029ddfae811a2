package contact

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Ukrainian mobile operator prefixes, matching the numbers real users
// enter by hand.
var operatorCodes = []string{"77", "93", "66", "73", "63", "67", "50"}

// FakeContacts generates randomized seed records. Emails and phone
// subscriber numbers are salted with a counter so a single batch cannot
// collide with itself.
func FakeContacts(count int) []ContactInput {
	now := time.Now().UTC()
	minBirth := now.AddDate(-90, 0, 0)
	maxBirth := now.AddDate(-18, 0, 0)

	inputs := make([]ContactInput, 0, count)
	for i := 0; i < count; i++ {
		dob := gofakeit.DateRange(minBirth, maxBirth)
		inputs = append(inputs, ContactInput{
			FirstName:   gofakeit.FirstName(),
			LastName:    gofakeit.LastName(),
			Email:       fmt.Sprintf("%d.%s", i, gofakeit.Email()),
			Phone:       fakePhone(i),
			DateOfBirth: &dob,
		})
	}

	return inputs
}

// fakePhone embeds the batch index in the leading subscriber digits so
// two entries in the same batch can never share a number.
func fakePhone(i int) string {
	code := operatorCodes[gofakeit.Number(0, len(operatorCodes)-1)]
	return fmt.Sprintf("+380%s%03d%04d", code, i%1000, gofakeit.Number(0, 9999))
}
