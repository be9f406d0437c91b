package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMMSS(t *testing.T) {
	cases := map[float64]string{
		0:     "00:00",
		4.2:   "00:04",
		59.5:  "01:00",
		204.6: "03:25",
		3660:  "61:00",
		-1:    "00:00",
	}
	for seconds, want := range cases {
		assert.Equal(t, want, MMSS(seconds), "MMSS(%v)", seconds)
	}
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, "12.3s", Seconds(12.34))
	assert.Equal(t, "0.0s", Seconds(0))
	assert.Equal(t, "5.0s", Seconds(5))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
	assert.Equal(t, "12%", Percentage(12.3, 0))
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "42", Number(42))
}

func TestBytes(t *testing.T) {
	cases := map[int64]string{
		0:                      "0 B",
		512:                    "512 B",
		1024:                   "1.0 KB",
		1536:                   "1.5 KB",
		1 << 20:                "1.0 MB",
		5 * 1024 * 1024 * 1024: "5.0 GB",
	}
	for n, want := range cases {
		assert.Equal(t, want, Bytes(n), "Bytes(%d)", n)
	}
}

func TestCronDescription(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"*/30 * * * * *", "Every 30 seconds"},
		{"0 */10 * * * *", "Every 10 minutes"},
		{"0 0 */1 * * *", "Every hour"},
		{"0 0 */2 * * *", "Every 2 hours"},
		{"0 * * * * *", "Every minute"},
		{"0 0 * * * *", "Every hour"},
		{"0 15 * * * *", "Every hour at :15"},
		{"0 30 2 * * *", "Daily at 02:30"},
		{"not a cron", "not a cron"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CronDescription(tc.expr), "expr %q", tc.expr)
	}
}
