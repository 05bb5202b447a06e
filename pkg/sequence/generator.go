package sequence

import (
	"context"
	"crypto/rand"
	"math/big"

	"feedloop-engagement/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewCodeGenerator),
)

// Generator produces shareable referral codes. Codes are drawn from
// crypto/rand so the sequence of issued codes is not guessable; collision
// handling against the pending namespace belongs to the caller.
type Generator interface {
	NextReferralCode(ctx context.Context) (string, error)
}

type codeGenerator struct {
	length int
}

type Params struct {
	fx.In

	Config *config.Config
}

func NewCodeGenerator(p Params) Generator {
	return &codeGenerator{
		length: p.Config.Referral.CodeLength,
	}
}

func (g *codeGenerator) NextReferralCode(ctx context.Context) (string, error) {
	return randomAlphaNumeric(g.length)
}

// Alphabet omits 0/O/1/I so codes survive being read aloud or retyped.
const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomAlphaNumeric(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
