package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"foobar@example.com", "fo***@example.com"},
		{"ab@ex.com", "***@ex.com"},
		{"no-at-here", "***"},
		{"a@b@c", "***"},
		{"", "***"},
		{"юзер@пример.рф", "юз***@пример.рф"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Email(tt.in), tt.in)
	}
	require.Equal(t, "[REDACTED_TOKEN]", Token())
}
