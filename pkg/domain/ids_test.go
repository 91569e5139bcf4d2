package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "trustledger/pkg/domain-errors"
)

type IDsSuite struct {
	suite.Suite
}

func TestIDsSuite(t *testing.T) {
	suite.Run(t, new(IDsSuite))
}

func (s *IDsSuite) TestParseAddress() {
	s.Run("accepts alphanumeric with separators", func() {
		addr, err := ParseAddress("subject-1")
		s.Require().NoError(err)
		s.Equal(Address("subject-1"), addr)

		_, err = ParseAddress("trust_engine42")
		s.NoError(err)
	})

	s.Run("trims whitespace", func() {
		addr, err := ParseAddress("  admin  ")
		s.Require().NoError(err)
		s.Equal(Address("admin"), addr)
	})

	s.Run("rejects empty and too short", func() {
		_, err := ParseAddress("")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = ParseAddress("ab")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects overlong", func() {
		_, err := ParseAddress(strings.Repeat("a", 65))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects invalid characters", func() {
		for _, raw := range []string{"sub ject", "sub/ject", "sub.ject", "süßbject"} {
			_, err := ParseAddress(raw)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "raw %q", raw)
		}
	})
}

func (s *IDsSuite) TestParseProvider() {
	provider, err := ParseProvider("  GitHub ")
	s.Require().NoError(err)
	s.Equal(Provider("github"), provider)

	_, err = ParseProvider("   ")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *IDsSuite) TestBadgeTypeValid() {
	s.True(BadgeGold.Valid())
	s.False(BadgeType("Titanium").Valid())
	s.False(BadgeType("").Valid())
}

func (s *IDsSuite) TestValidScore() {
	s.True(ValidScore(0))
	s.True(ValidScore(100))
	s.False(ValidScore(101))
	s.False(ValidScore(255))
}

func FuzzParseAddress(f *testing.F) {
	f.Add("subject-1")
	f.Add("  admin  ")
	f.Add(strings.Repeat("a", 64))
	f.Add("sub ject")
	f.Fuzz(func(t *testing.T, raw string) {
		addr, err := ParseAddress(raw)
		if err != nil {
			return
		}
		if addr.IsZero() {
			t.Fatalf("parsed address is zero for input %q", raw)
		}
		// Parsing is idempotent on its own output.
		again, err := ParseAddress(addr.String())
		if err != nil {
			t.Fatalf("reparse of %q failed: %v", addr, err)
		}
		if again != addr {
			t.Fatalf("reparse changed %q to %q", addr, again)
		}
	})
}
