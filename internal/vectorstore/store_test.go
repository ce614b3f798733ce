package vectorstore

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

func TestClassifyPgErr_ForeignKeyViolation(t *testing.T) {
	err := classifyPgErr(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})
	var apiErr *apierr.Error
	assert.True(t, apierr.As(err, &apiErr))
	assert.Equal(t, apierr.KindTerminal, apiErr.Kind)
}

func TestClassifyPgErr_OtherErrorsWrapped(t *testing.T) {
	err := classifyPgErr(errors.New("connection reset"))
	assert.ErrorContains(t, err, "persist chunk")
}
