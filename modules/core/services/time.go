package services

import "time"

type timeValue struct {
	t time.Time
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
