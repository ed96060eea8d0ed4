// services/code_generator.go
package services

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

const codeGenAttempts = 5

// CodeGenerator builds personal referral codes: a short prefix from the
// customer's name plus digits derived from their id. Collisions perturb the
// id component; after codeGenAttempts it falls back to random material so
// generation always terminates.
type CodeGenerator struct {
	DB *gorm.DB
}

func NewCodeGenerator(db *gorm.DB) *CodeGenerator {
	return &CodeGenerator{DB: db}
}

// Generate returns a code unique (case-insensitively) across all customer
// records. Codes are always uppercase.
func (g *CodeGenerator) Generate(name, customerID string) (string, error) {
	base := namePart(name)
	idPart := digitPart(customerID)

	for i := 0; i < codeGenAttempts; i++ {
		code := base + perturb(idPart, i)
		taken, err := g.taken(code)
		if err != nil {
			return "", fmt.Errorf("check code %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}

	return base + strings.ToUpper(uuid.NewString()[:6]), nil
}

// namePart transliterates the name and keeps the first three letters.
func namePart(name string) string {
	s := slug.Make(unidecode.Unidecode(name))
	s = strings.ReplaceAll(s, "-", "")
	if len(s) > 3 {
		s = s[:3]
	}
	if s == "" {
		s = "ref"
	}
	return strings.ToUpper(s)
}

// digitPart maps the customer id onto four stable digits.
func digitPart(customerID string) string {
	sum := sha256.Sum256([]byte(customerID))
	n := binary.BigEndian.Uint32(sum[:4]) % 10000
	return fmt.Sprintf("%04d", n)
}

func perturb(idPart string, attempt int) string {
	if attempt == 0 {
		return idPart
	}
	n, _ := strconv.Atoi(idPart)
	return fmt.Sprintf("%04d", (n+attempt*7919)%10000)
}

func (g *CodeGenerator) taken(code string) (bool, error) {
	var count int64
	err := g.DB.Model(&models.CustomerReferral{}).
		Where("UPPER(personal_code) = ?", code).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
