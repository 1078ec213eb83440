package ir

import (
	"fmt"
	"strings"
)

// Features is a bit set of the optional instruction families a Codec
// accepts. The zero value accepts only the core instruction set.
type Features uint64

const (
	// FeatureSignExtensionOps enables i32.extend8_s and friends.
	FeatureSignExtensionOps Features = 1 << iota
	// FeatureNonTrappingFloatToInt enables the saturating truncations.
	FeatureNonTrappingFloatToInt
	// FeatureBulkMemoryOperations enables memory.init/copy/fill, data.drop,
	// table.init/copy and elem.drop.
	FeatureBulkMemoryOperations
	// FeatureReferenceTypes enables ref.null func and ref.func.
	FeatureReferenceTypes
	// FeatureExceptions enables try_table, throw and throw_ref.
	FeatureExceptions
	// FeatureLegacyExceptions enables try, catch, catch_all, rethrow and delegate.
	FeatureLegacyExceptions
)

const (
	// FeaturesMinimal is the default set: everything except exception handling.
	FeaturesMinimal = FeatureSignExtensionOps | FeatureNonTrappingFloatToInt |
		FeatureBulkMemoryOperations | FeatureReferenceTypes
	// FeaturesFull adds both exception handling proposals.
	FeaturesFull = FeaturesMinimal | FeatureExceptions | FeatureLegacyExceptions
)

var featureNames = []struct {
	f    Features
	name string
}{
	{FeatureSignExtensionOps, "sign-extension-ops"},
	{FeatureNonTrappingFloatToInt, "nontrapping-float-to-int-conversion"},
	{FeatureBulkMemoryOperations, "bulk-memory-operations"},
	{FeatureReferenceTypes, "reference-types"},
	{FeatureExceptions, "exceptions"},
	{FeatureLegacyExceptions, "legacy-exceptions"},
}

// SetEnabled returns f with feature set or cleared.
func (f Features) SetEnabled(feature Features, val bool) Features {
	if val {
		return f | feature
	}
	return f &^ feature
}

// IsEnabled reports whether every bit of feature is set.
func (f Features) IsEnabled(feature Features) bool {
	return feature != 0 && f&feature == feature
}

// RequireEnabled returns an error naming feature if it is not enabled.
func (f Features) RequireEnabled(feature Features) error {
	if feature == 0 || f.IsEnabled(feature) {
		return nil
	}
	return fmt.Errorf("feature %q is disabled", feature)
}

// String returns the enabled feature names joined with '|'.
func (f Features) String() string {
	var names []string
	for _, fn := range featureNames {
		if f&fn.f != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}
