package security

import (
	"errors"
	"fmt"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 8

var (
	ErrPasswordTooShort  = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordNoUpper   = errors.New("password must contain an uppercase letter")
	ErrPasswordNoLower   = errors.New("password must contain a lowercase letter")
	ErrPasswordNoDigit   = errors.New("password must contain a digit")
	ErrPasswordNoSpecial = errors.New("password must contain a special character")
)

func HashPassword(password string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(password string, hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Decoy spends the bcrypt work of one verification at the cost real hashes
// are stored with, for logins that match no account.
type Decoy struct {
	cost int
	once sync.Once
	hash []byte
}

func NewDecoy(cost int) *Decoy {
	return &Decoy{cost: cost}
}

// Verify always fails.
func (d *Decoy) Verify(password string) bool {
	_ = bcrypt.CompareHashAndPassword(d.load(), []byte(password))
	return false
}

// Cost is the bcrypt cost the decoy hash was built with.
func (d *Decoy) Cost() int {
	cost, _ := bcrypt.Cost(d.load())
	return cost
}

func (d *Decoy) load() []byte {
	d.once.Do(func() {
		d.hash, _ = HashPassword("decoy-password-never-matches", d.cost)
	})
	return d.hash
}

// CheckPasswordPolicy enforces length plus upper, lower, digit and special
// character classes.
func CheckPasswordPolicy(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			special = true
		}
	}

	switch {
	case !upper:
		return ErrPasswordNoUpper
	case !lower:
		return ErrPasswordNoLower
	case !digit:
		return ErrPasswordNoDigit
	case !special:
		return ErrPasswordNoSpecial
	}
	return nil
}
