package acctmgr

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific AccountError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the AccountError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrCrypto indicates an error with the cryptography related operations
	// such as decrypting or encrypting data.
	ErrCrypto

	// ErrInvalidID indicates an identifier of the wrong byte length was
	// passed, or an on-disk key carried an unknown prefix.
	ErrInvalidID

	// ErrIDMismatch indicates that public data was imported into an
	// account whose ID does not match the snapshot's.
	ErrIDMismatch

	// ErrUnknownAccountType indicates an unrecognized account type tag.
	ErrUnknownAccountType

	// ErrUnexpectedRootType indicates the concrete type behind a
	// polymorphic root asset handle was not the one the operation
	// requires.
	ErrUnexpectedRootType

	// ErrMissingRoot indicates required root key material was absent, for
	// instance a nil root callback during account construction.
	ErrMissingRoot

	// ErrInvalidChaincode indicates an empty or otherwise unusable
	// chaincode.
	ErrInvalidChaincode

	// ErrInvalidSalt indicates the salt for a salted derivation scheme is
	// missing or not exactly 32 bytes.
	ErrInvalidSalt

	// ErrSkippedPath indicates a derivation path in the account descriptor
	// resolved to an empty root node.
	ErrSkippedPath

	// ErrTypeNotPermitted indicates a requested address presentation type
	// that is not part of the account's permitted type set.
	ErrTypeNotPermitted

	// ErrNoActiveSubAccount indicates an address was requested from the
	// outer or inner chain while the relevant designator is unset.
	ErrNoActiveSubAccount

	// ErrDuplicateSubAccount indicates an attempt to register a
	// sub-account under an ID that is already taken.
	ErrDuplicateSubAccount

	// ErrAccountNotFound indicates no account record exists under the
	// given storage key.
	ErrAccountNotFound

	// ErrSubAccountNotFound indicates no sub-account exists for the given
	// ID.
	ErrSubAccountNotFound

	// ErrAssetNotFound indicates no asset exists for the given ID.
	ErrAssetNotFound

	// ErrAddressNotFound indicates no asset is known for the given address
	// hash.
	ErrAddressNotFound

	// ErrIndexOutOfRange indicates an asset index beyond the sub-account's
	// computed watermark.
	ErrIndexOutOfRange

	// ErrUnrequestedAddress indicates an address entry was resolved for an
	// index beyond the highest index ever handed out.  This is distinct
	// from a plain lookup miss since it signals potential address reuse
	// outside the sanctioned range.
	ErrUnrequestedAddress

	// ErrWatchingOnly indicates a private key operation was attempted on
	// watching-only key material.
	ErrWatchingOnly

	// ErrLocked indicates an operation that needs decrypted private
	// material was attempted while the secret store is locked.
	ErrLocked
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errCodeStrings = map[ErrorCode]string{
	ErrDatabase:            "ErrDatabase",
	ErrCrypto:              "ErrCrypto",
	ErrInvalidID:           "ErrInvalidID",
	ErrIDMismatch:          "ErrIDMismatch",
	ErrUnknownAccountType:  "ErrUnknownAccountType",
	ErrUnexpectedRootType:  "ErrUnexpectedRootType",
	ErrMissingRoot:         "ErrMissingRoot",
	ErrInvalidChaincode:    "ErrInvalidChaincode",
	ErrInvalidSalt:         "ErrInvalidSalt",
	ErrSkippedPath:         "ErrSkippedPath",
	ErrTypeNotPermitted:    "ErrTypeNotPermitted",
	ErrNoActiveSubAccount:  "ErrNoActiveSubAccount",
	ErrDuplicateSubAccount: "ErrDuplicateSubAccount",
	ErrAccountNotFound:     "ErrAccountNotFound",
	ErrSubAccountNotFound:  "ErrSubAccountNotFound",
	ErrAssetNotFound:       "ErrAssetNotFound",
	ErrAddressNotFound:     "ErrAddressNotFound",
	ErrIndexOutOfRange:     "ErrIndexOutOfRange",
	ErrUnrequestedAddress:  "ErrUnrequestedAddress",
	ErrWatchingOnly:        "ErrWatchingOnly",
	ErrLocked:              "ErrLocked",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// AccountError provides a single type for errors that can happen during the
// account manager operation.  It is used to indicate several types of
// failures including errors with caller requests such as invalid identifiers,
// unknown account or address types, permission restrictions, and database
// errors.  It has full support for errors.Is and errors.As, so the caller can
// ascertain the specific reason for the error by checking the underlying
// error.
type AccountError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e AccountError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e AccountError) Unwrap() error {
	return e.Err
}

// managerError creates an AccountError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) AccountError {
	return AccountError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is an AccountError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	if merr, ok := err.(AccountError); ok {
		return merr.ErrorCode == code
	}
	return false
}
