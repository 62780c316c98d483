package limiter

import "errors"

var (
	ErrBadCooldownResponse = errors.New("authority returned an unparseable cooldown")
)
