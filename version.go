package fsh

// FHIRVersion represents a FHIR specification version that entities are
// compiled against.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1).
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0).
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0).
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case R4, R4B, R5:
		return true
	default:
		return false
	}
}

// versionConfig holds version-specific configuration used to pick the
// default core/terminology dependency packages for the Definitions Cache.
type versionConfig struct {
	CorePackageName    string
	CorePackageVersion string
	FHIRVersionString  string
}

var versionConfigs = map[FHIRVersion]versionConfig{
	R4: {
		CorePackageName:    "hl7.fhir.r4.core",
		CorePackageVersion: "4.0.1",
		FHIRVersionString:  "4.0.1",
	},
	R4B: {
		CorePackageName:    "hl7.fhir.r4b.core",
		CorePackageVersion: "4.3.0",
		FHIRVersionString:  "4.3.0",
	},
	R5: {
		CorePackageName:    "hl7.fhir.r5.core",
		CorePackageVersion: "5.0.0",
		FHIRVersionString:  "5.0.0",
	},
}

// VersionString returns the FHIR specification version literal stamped
// into exported artifacts ("4.0.1" for R4).
func (v FHIRVersion) VersionString() string {
	return versionConfigs[v].FHIRVersionString
}

// CorePackage returns the default core FHIR package name/version for v.
func (v FHIRVersion) CorePackage() (name, version string, ok bool) {
	cfg, ok := versionConfigs[v]
	return cfg.CorePackageName, cfg.CorePackageVersion, ok
}
