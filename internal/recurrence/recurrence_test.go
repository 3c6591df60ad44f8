package recurrence

import (
	"strings"
	"testing"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
)

func TestValidateIntervalExpression(t *testing.T) {
	t.Parallel()
	valid := []string{"1m", "30m", "525600m", "2h", "8760h", "1d", "365d"}
	for _, expr := range valid {
		if err := ValidateIntervalExpression(expr); err != nil {
			t.Errorf("ValidateIntervalExpression(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{"", "m", "0m", "-5m", "10x", "1.5h", "999999d", "525601m", "8761h", "366d", "h2"}
	for _, expr := range invalid {
		err := ValidateIntervalExpression(expr)
		if err == nil {
			t.Errorf("ValidateIntervalExpression(%q) = nil, want error", expr)
			continue
		}
		if fault.CodeOf(err) != fault.BadRequest {
			t.Errorf("ValidateIntervalExpression(%q) code = %s, want BAD_REQUEST", expr, fault.CodeOf(err))
		}
	}
}

func TestValidateCronExpression(t *testing.T) {
	t.Parallel()
	valid := []string{
		"0 9 * * *",
		"46 6 * * 1,3,5",
		"0 9 15 * *",
		"*/15 * * * *",
		"0 */6 * * *",
		"0 9 L * *",
		"0 9 * JAN,JUL *",
		"0 9 1-7 * 1-5",
		"30 8 * DEC 0,6",
	}
	for _, expr := range valid {
		if err := ValidateCronExpression(expr); err != nil {
			t.Errorf("ValidateCronExpression(%q) = %v, want nil", expr, err)
		}
	}

	tests := []struct {
		expr    string
		msgPart string
	}{
		{"0 9 * *", "exactly 5 fields"},
		{"0 9 * * * *", "exactly 5 fields"},
		{"60 9 * * *", "minute"},
		{"0 24 * * *", "hour"},
		{"0 9 32 * *", "day-of-month"},
		{"0 9 0 * *", "day-of-month"},
		{"0 9 * 13 *", "month"},
		{"0 9 * FOO *", "month"},
		{"0 9 * * 7", "day-of-week"},
		{"30-10 9 * * *", "start must not exceed end"},
		{"0 9 */2 * *", "stepped values"},
		{"0 9 * * */2", "stepped values"},
	}
	for _, tt := range tests {
		err := ValidateCronExpression(tt.expr)
		if err == nil {
			t.Errorf("ValidateCronExpression(%q) = nil, want error", tt.expr)
			continue
		}
		if fault.CodeOf(err) != fault.BadRequest {
			t.Errorf("ValidateCronExpression(%q) code = %s, want BAD_REQUEST", tt.expr, fault.CodeOf(err))
		}
		if !strings.Contains(err.Error(), tt.msgPart) {
			t.Errorf("ValidateCronExpression(%q) error %q does not mention %q", tt.expr, err, tt.msgPart)
		}
	}
}

func TestNextRunTimeInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"30m", now.Add(30 * time.Minute)},
		{"2h", now.Add(2 * time.Hour)},
		{"1d", now.Add(24 * time.Hour)},
	}
	for _, tt := range tests {
		got, err := NextRunTime(TypeInterval, tt.expr, now)
		if err != nil {
			t.Fatalf("NextRunTime(interval, %q) error: %v", tt.expr, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextRunTime(interval, %q) = %v, want %v", tt.expr, got, tt.want)
		}
	}

	if _, err := NextRunTime(TypeInterval, "999999d", now); fault.CodeOf(err) != fault.BadRequest {
		t.Errorf("NextRunTime(interval, 999999d) code = %s, want BAD_REQUEST", fault.CodeOf(err))
	}
}

func TestNextRunTimeDailyCron(t *testing.T) {
	t.Parallel()
	// 10:30 local: today's 09:00 already passed.
	now := time.Date(2025, 3, 10, 10, 30, 0, 0, time.Local)
	got, err := NextRunTime(TypeCron, "0 9 * * *", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want := time.Date(2025, 3, 11, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}

	// 08:00 local: today's 09:00 is still ahead.
	now = time.Date(2025, 3, 10, 8, 0, 0, 0, time.Local)
	got, err = NextRunTime(TypeCron, "0 9 * * *", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want = time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeWeekdayList(t *testing.T) {
	t.Parallel()
	// Walk a couple of weeks; every result must be Mon/Wed/Fri at 06:46
	// and strictly after its input.
	now := time.Date(2025, 3, 8, 12, 0, 0, 0, time.Local) // a Saturday
	for i := 0; i < 8; i++ {
		got, err := NextRunTime(TypeCron, "46 6 * * 1,3,5", now)
		if err != nil {
			t.Fatalf("NextRunTime error: %v", err)
		}
		if !got.After(now) {
			t.Fatalf("next %v not strictly after %v", got, now)
		}
		switch got.Weekday() {
		case time.Monday, time.Wednesday, time.Friday:
		default:
			t.Fatalf("next %v is a %v, want Mon/Wed/Fri", got, got.Weekday())
		}
		if got.Hour() != 6 || got.Minute() != 46 {
			t.Fatalf("next %v, want 06:46", got)
		}
		now = got
	}
}

func TestNextRunTimeDayOfMonth(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.Local)
	for i := 0; i < 4; i++ {
		got, err := NextRunTime(TypeCron, "0 9 15 * *", now)
		if err != nil {
			t.Fatalf("NextRunTime error: %v", err)
		}
		if got.Day() != 15 || got.Hour() != 9 || got.Minute() != 0 {
			t.Fatalf("next %v, want the 15th at 09:00", got)
		}
		if !got.After(now) {
			t.Fatalf("next %v not strictly after %v", got, now)
		}
		now = got
	}
}

func TestNextRunTimeDay31SkipsShortMonths(t *testing.T) {
	t.Parallel()
	// After March 31st the next 31st is in May; April has 30 days.
	now := time.Date(2025, 3, 31, 10, 0, 0, 0, time.Local)
	got, err := NextRunTime(TypeCron, "0 9 31 * *", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want := time.Date(2025, 5, 31, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeLastDayOfMonth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		// Leap February.
		{
			time.Date(2024, 2, 10, 12, 0, 0, 0, time.Local),
			time.Date(2024, 2, 29, 9, 0, 0, 0, time.Local),
		},
		// Non-leap February.
		{
			time.Date(2025, 2, 10, 12, 0, 0, 0, time.Local),
			time.Date(2025, 2, 28, 9, 0, 0, 0, time.Local),
		},
		// Past this month's last day: roll into the next month.
		{
			time.Date(2025, 4, 30, 10, 0, 0, 0, time.Local),
			time.Date(2025, 5, 31, 9, 0, 0, 0, time.Local),
		},
	}
	for _, tt := range tests {
		got, err := NextRunTime(TypeCron, "0 9 L * *", tt.now)
		if err != nil {
			t.Fatalf("NextRunTime error: %v", err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextRunTime(L, now=%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestNextRunTimeDomDowOrSemantics(t *testing.T) {
	t.Parallel()
	// "0 9 15 * 1": the 15th OR any Monday, whichever comes first.
	// From Sat 2025-03-08, Monday the 10th beats the 15th.
	now := time.Date(2025, 3, 8, 12, 0, 0, 0, time.Local)
	got, err := NextRunTime(TypeCron, "0 9 15 * 1", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want Monday %v (OR semantics)", got, want)
	}

	// From Tue 2025-03-11, the 15th (a Saturday) beats the next Monday.
	now = time.Date(2025, 3, 11, 12, 0, 0, 0, time.Local)
	got, err = NextRunTime(TypeCron, "0 9 15 * 1", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want = time.Date(2025, 3, 15, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want the 15th %v (OR semantics)", got, want)
	}
}

func TestNextRunTimeMinuteWildcardResolvesToZero(t *testing.T) {
	t.Parallel()
	// Documented deviation: "* 10 * * *" fires at 10:00, not every
	// minute of the 10 o'clock hour.
	now := time.Date(2025, 3, 10, 7, 45, 0, 0, time.Local)
	got, err := NextRunTime(TypeCron, "* 10 * * *", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want := time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeStepCeiling(t *testing.T) {
	t.Parallel()
	// */15 at :37 rounds the minute up to :45 of the current hour.
	now := time.Date(2025, 3, 10, 11, 37, 0, 0, time.Local)
	got, err := NextRunTime(TypeCron, "*/15 * * * *", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want := time.Date(2025, 3, 10, 11, 45, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeMonthNames(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	got, err := NextRunTime(TypeCron, "0 9 1 JUL *", now)
	if err != nil {
		t.Fatalf("NextRunTime error: %v", err)
	}
	want := time.Date(2025, 7, 1, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeAlwaysStrictlyAfterNow(t *testing.T) {
	t.Parallel()
	exprs := []string{"0 9 * * *", "46 6 * * 1,3,5", "0 9 15 * *", "0 9 L * *", "*/15 * * * *", "0 */6 * * *"}
	starts := []time.Time{
		time.Date(2024, 2, 28, 23, 59, 0, 0, time.Local),
		time.Date(2025, 12, 31, 9, 0, 0, 0, time.Local),
		time.Date(2025, 6, 15, 9, 0, 0, 0, time.Local),
	}
	for _, expr := range exprs {
		for _, now := range starts {
			got, err := NextRunTime(TypeCron, expr, now)
			if err != nil {
				t.Fatalf("NextRunTime(%q, %v) error: %v", expr, now, err)
			}
			if !got.After(now) {
				t.Errorf("NextRunTime(%q, %v) = %v, not strictly after now", expr, now, got)
			}
		}
	}
}
