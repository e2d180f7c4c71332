package mongo

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

var (
	ErrEmptyConnectionURL     = errors.New("mongo.empty_connection_url")
	ErrFailedToConnectToMongo = errors.New("mongo.connection_failed")
	ErrHealthcheckFailed      = errors.New("mongo.healthcheck_failed")
)

// IsDuplicateKeyError reports a unique index violation.
func IsDuplicateKeyError(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err)
}

// IsNotFoundError reports mongo.ErrNoDocuments.
func IsNotFoundError(err error) bool {
	return err != nil && errors.Is(err, mongo.ErrNoDocuments)
}
