// errors.go: structured error definitions for the modhub module system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	stderrors "errors"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for the modhub module system
const (
	// Registry errors (1000-1099)
	ErrCodeDuplicateModule = "MODHUB_1001"
	ErrCodeModuleNotFound  = "MODHUB_1002"
	ErrCodeModuleLoaded    = "MODHUB_1003"
	ErrCodeModuleInUse     = "MODHUB_1004"
	ErrCodeInvalidModule   = "MODHUB_1005"
	ErrCodeManifestParse   = "MODHUB_1006"

	// Resolution errors (2000-2099)
	ErrCodeCyclicDependency     = "MODHUB_2001"
	ErrCodeUnresolvedDependency = "MODHUB_2002"
	ErrCodeVersionMismatch      = "MODHUB_2003"
	ErrCodeActivationFailed     = "MODHUB_2004"

	// Group errors (3000-3099)
	ErrCodeGroupNotFound = "MODHUB_3001"
	ErrCodeInvalidGroup  = "MODHUB_3002"

	// Copy and synchronization errors (4000-4099)
	ErrCodeCopySourceNotFound = "MODHUB_4001"
	ErrCodeCopyWriteFailed    = "MODHUB_4002"

	// Merge errors (5000-5099)
	ErrCodeMergeConflict    = "MODHUB_5001"
	ErrCodeMergeUnavailable = "MODHUB_5002"

	// Configuration and I/O errors (6000-6099)
	ErrCodeIOFailure              = "MODHUB_6001"
	ErrCodeInvalidModuleExtension = "MODHUB_6002"
	ErrCodeInvalidConfig          = "MODHUB_6003"
	ErrCodeConfigParse            = "MODHUB_6004"
	ErrCodeManagerClosed          = "MODHUB_6005"

	// Listener errors (7000-7099)
	ErrCodeListenerFailed = "MODHUB_7001"
)

// Registry error constructors

func NewDuplicateModuleError(key ModuleKey) *errors.Error {
	return errors.New(ErrCodeDuplicateModule, "Duplicate module "+key.String()).
		WithUserMessage("A module with the same id and version is already registered").
		WithContext("module", key.String()).
		WithSeverity("error")
}

func NewModuleNotFoundError(id string, version string) *errors.Error {
	ref := id
	if version != "" {
		ref = id + "@" + version
	}
	return errors.New(ErrCodeModuleNotFound, "Module not found "+ref).
		WithUserMessage("The requested module is not registered").
		WithContext("module", ref).
		WithSeverity("error")
}

func NewModuleLoadedError(key ModuleKey) *errors.Error {
	return errors.New(ErrCodeModuleLoaded, "Module is loaded "+key.String()).
		WithUserMessage("The module must be unloaded before it can be unregistered").
		WithContext("module", key.String()).
		WithSeverity("error")
}

func NewModuleInUseError(key ModuleKey) *errors.Error {
	return errors.New(ErrCodeModuleInUse, "Module is held by another load request "+key.String()).
		WithUserMessage("The module was not loaded explicitly and is still required").
		WithContext("module", key.String()).
		WithSeverity("warning")
}

func NewInvalidModuleError(message string, id string) *errors.Error {
	return errors.New(ErrCodeInvalidModule, message).
		WithUserMessage("The module definition is invalid").
		WithContext("module_id", id).
		WithSeverity("error")
}

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParse, "Failed to parse module manifest").
		WithUserMessage("The module manifest is malformed").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

// Resolution error constructors

func NewCyclicDependencyError(from, to ModuleKey) *errors.Error {
	edge := from.String() + " -> " + to.String()
	return errors.New(ErrCodeCyclicDependency, "Cyclic dependency "+edge).
		WithUserMessage("The requested modules depend on each other in a cycle").
		WithContext("edge", edge).
		WithSeverity("error")
}

func NewUnresolvedDependencyError(ref ModuleRef, requiredBy string) *errors.Error {
	err := errors.New(ErrCodeUnresolvedDependency, "Unresolved dependency "+ref.String()).
		WithUserMessage("A required module is not registered").
		WithContext("dependency", ref.String()).
		WithSeverity("error")
	if requiredBy != "" {
		err = err.WithContext("required_by", requiredBy)
	}
	return err
}

func NewVersionMismatchError(ref ModuleRef, available []uint32) *errors.Error {
	versions := make([]string, 0, len(available))
	for _, v := range available {
		versions = append(versions, formatVersion(v))
	}
	return errors.New(ErrCodeVersionMismatch, "Version mismatch for "+ref.String()).
		WithUserMessage("The requested module version is not compatible with the registry state").
		WithContext("dependency", ref.String()).
		WithContext("available", strings.Join(versions, ",")).
		WithSeverity("error")
}

func NewActivationFailedError(key ModuleKey, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeActivationFailed, "Module activation failed "+key.String()).
		WithUserMessage("The module could not be activated").
		WithContext("module", key.String()).
		WithSeverity("error")
}

// Group error constructors

func NewGroupNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodeGroupNotFound, "Group not found "+name).
		WithUserMessage("No module group with that name is defined").
		WithContext("group", name).
		WithSeverity("error")
}

func NewInvalidGroupError(name string, message string) *errors.Error {
	return errors.New(ErrCodeInvalidGroup, message).
		WithUserMessage("The module group definition is invalid").
		WithContext("group", name).
		WithSeverity("error")
}

// Copy and synchronization error constructors

func NewCopySourceNotFoundError(path string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeCopySourceNotFound, "Copy source not found").
			WithUserMessage("The source module directory does not exist").
			WithContext("path", path).
			WithSeverity("error")
	}
	return errors.Wrap(cause, ErrCodeCopySourceNotFound, "Copy source not found").
		WithUserMessage("The source module directory does not exist").
		WithContext("path", path).
		WithSeverity("error")
}

func NewCopyWriteFailedError(path string, message string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeCopyWriteFailed, message).
			WithUserMessage("The module copy could not be written").
			WithContext("path", path).
			WithSeverity("error")
	}
	return errors.Wrap(cause, ErrCodeCopyWriteFailed, message).
		WithUserMessage("The module copy could not be written").
		WithContext("path", path).
		WithSeverity("error")
}

// Merge error constructors

func NewMergeConflictError(conflicts []MergeConflict) *errors.Error {
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ModuleID)
	}
	return errors.New(ErrCodeMergeConflict, "Merge conflict on "+strings.Join(ids, ",")).
		WithUserMessage("The staged modules conflict with the live module tree").
		WithContext("modules", strings.Join(ids, ",")).
		WithContext("conflicts", len(conflicts)).
		WithSeverity("error")
}

func NewMergeUnavailableError(path string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeMergeUnavailable, "No merge definition").
			WithUserMessage("No merge is pending").
			WithContext("merge_definition_path", path).
			WithSeverity("warning")
	}
	return errors.Wrap(cause, ErrCodeMergeUnavailable, "Unreadable merge definition").
		WithUserMessage("The pending merge definition could not be read").
		WithContext("merge_definition_path", path).
		WithSeverity("error")
}

// Configuration and I/O error constructors

func NewIOFailureError(operation string, path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeIOFailure, "I/O failure during "+operation).
		WithUserMessage("A filesystem operation failed").
		WithContext("operation", operation).
		WithContext("path", path).
		WithSeverity("error").
		AsRetryable()
}

func NewInvalidModuleExtensionError(ext string) *errors.Error {
	return errors.New(ErrCodeInvalidModuleExtension, "Invalid module extension").
		WithUserMessage("The module extension must be non-empty and given without a leading period").
		WithContext("extension", ext).
		WithSeverity("error")
}

func NewInvalidConfigError(message string) *errors.Error {
	return errors.New(ErrCodeInvalidConfig, message).
		WithUserMessage("The module manager configuration is invalid").
		WithSeverity("error")
}

func NewManagerClosedError() *errors.Error {
	return errors.New(ErrCodeManagerClosed, "Module manager is closed").
		WithUserMessage("The module manager has been shut down").
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParse, "Failed to parse configuration").
		WithUserMessage("The configuration file is malformed").
		WithContext("config_path", path).
		WithSeverity("error")
}

// Listener error constructors

func NewListenerFailedError(event ModuleEvent, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeListenerFailed, "Module listener failed").
		WithUserMessage("A module listener returned an error").
		WithContext("event", event.Type.String()).
		WithContext("module", event.Module.Key().String()).
		WithSeverity("warning")
}

// ErrorCode returns the modhub error code carried by err, or "" when err
// is not a structured error.
func ErrorCode(err error) string {
	var modErr *errors.Error
	if stderrors.As(err, &modErr) {
		return string(modErr.Code)
	}
	return ""
}

// HasErrorCode reports whether err carries the given error code.
func HasErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
