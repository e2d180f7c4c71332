// Package mongo connects to MongoDB with retries (New, NewWithDatabase),
// provides a healthcheck and classifies driver errors.
//
// Config fields are read from MONGODB_* environment variables.
package mongo
