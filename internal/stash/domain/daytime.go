package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DayTime is a local time of day with minute resolution, stored as minutes
// since midnight. Operating hours are expressed with it and serialized in the
// "HH:MM" form the public API uses.
type DayTime int

// ParseDayTime parses "HH:MM".
func ParseDayTime(s string) (DayTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%2d:%2d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: time of day %q is not HH:MM", ErrInvalidArgument, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: time of day %q out of range", ErrInvalidArgument, s)
	}
	return DayTime(h*60 + m), nil
}

// TimeOfDay extracts the UTC clock time of an instant. Booking windows are
// UTC instants, so operating-hour comparisons happen on the UTC clock as
// well.
func TimeOfDay(t time.Time) DayTime {
	u := t.UTC()
	return DayTime(u.Hour()*60 + u.Minute())
}

func (d DayTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

func (d DayTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DayTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDayTime(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
