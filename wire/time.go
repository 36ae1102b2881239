package wire

import "time"

func secNsecToTime(sec, nsec int64) time.Time {
	return time.Unix(sec, nsec).UTC()
}
