package protocol

import "time"

const timeLayout = "2006-01-02T15:04:05.000Z"

func nowTS() string {
	return time.Now().UTC().Format(timeLayout)
}
