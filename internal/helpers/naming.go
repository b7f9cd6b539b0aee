package helpers

import (
	"regexp"
	"time"
)

// BundleTimeLayout is the timestamp suffix of a backup bundle name.
const BundleTimeLayout = "20060102150405"

var bundleSuffix = regexp.MustCompile(`-\d{14}$`)

// BundleName returns the bundle directory name of a backup of vm taken at t.
func BundleName(vm string, t time.Time) string {
	return vm + "-" + t.Format(BundleTimeLayout)
}

// VMNameFromBundle strips the timestamp suffix from a bundle name. Names
// without a suffix are returned unchanged.
func VMNameFromBundle(bundle string) string {
	return bundleSuffix.ReplaceAllString(bundle, "")
}
