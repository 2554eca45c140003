package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/reviewbot/internal/models"
)

func TestFor_ByCategory(t *testing.T) {
	for _, c := range models.Categories {
		f := models.Finding{Category: c}
		e := For(f)
		assert.NotEmpty(t, e.What, c)
		assert.NotEmpty(t, e.Why, c)
	}
	assert.Equal(t, "Removed debug statement", For(models.Finding{Category: models.CategoryDebugStatement}).What)
	assert.Equal(t, Generic, For(models.Finding{Category: models.CategoryOther}))
}

func TestFor_RuleAlias(t *testing.T) {
	assert.Equal(t, byCategory[models.CategoryStrictEquality], For(models.Finding{Rule: "eqeqeq"}))
	assert.Equal(t, byCategory[models.CategoryUnsafeDOMWrite], For(models.Finding{Rule: "XSS-Risk"}))
	assert.Equal(t, byCategory[models.CategoryMissingSemicolon], For(models.Finding{Rule: "semi"}))
}

func TestFor_NoSubstringMatching(t *testing.T) {
	// A rule merely containing "error" must not be treated as error handling.
	f := models.Finding{Rule: "prefer-error-cause-naming", Message: "error variable named e"}
	assert.Equal(t, Generic, For(f))
	assert.Equal(t, models.CategoryOther, CategoryOf(f))
}

func TestFor_CategoryWinsOverRule(t *testing.T) {
	f := models.Finding{Rule: "no-console", Category: models.CategoryErrorHandling}
	assert.Equal(t, byCategory[models.CategoryErrorHandling], For(f))
}

func TestLine(t *testing.T) {
	f := models.Finding{Line: 7, Rule: "no-console", Message: "console.log left in"}
	got := Line(f)
	assert.Contains(t, got, "Line 7")
	assert.Contains(t, got, "Removed debug statement")
	assert.Contains(t, got, "console.log left in")
}
