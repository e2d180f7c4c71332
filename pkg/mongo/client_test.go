package mongo_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	driver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/sessionkit/pkg/mongo"
)

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	_, err := mongo.New(t.Context(), mongo.Config{})
	assert.ErrorIs(t, err, mongo.ErrEmptyConnectionURL)
}

func TestErrorClassifiers(t *testing.T) {
	t.Parallel()

	dup := driver.WriteException{WriteErrors: []driver.WriteError{{Code: 11000}}}
	assert.True(t, mongo.IsDuplicateKeyError(dup))
	assert.False(t, mongo.IsDuplicateKeyError(nil))

	assert.True(t, mongo.IsNotFoundError(fmt.Errorf("find: %w", driver.ErrNoDocuments)))
	assert.False(t, mongo.IsNotFoundError(nil))
}
