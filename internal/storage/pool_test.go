package storage

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestValidateSortField(t *testing.T) {
	t.Parallel()

	allowed := map[string]bool{"created_at": true, "price": true}

	if got, err := validateSortField("price", allowed); err != nil || got != "price" {
		t.Fatalf("validateSortField(price) = %q, %v", got, err)
	}

	injections := []string{
		"price; DROP TABLE orders",
		"price DESC, created_at",
		"",
		"created_at\n--",
	}
	for _, field := range injections {
		if _, err := validateSortField(field, allowed); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("validateSortField(%q) error = %v, want ErrInvalidInput", field, err)
		}
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no rows", pgx.ErrNoRows, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"pg connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped no rows", errors.Join(errors.New("query"), pgx.ErrNoRows), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isTransient(tc.err); got != tc.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
