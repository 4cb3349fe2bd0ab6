package domain

import "time"

// Client is a registered customer whose addresses may open tickets when the
// registered-clients-only policy is active. Emails are lower-cased.
type Client struct {
	ID        string
	Name      string
	Emails    []string
	CreatedAt time.Time
}
