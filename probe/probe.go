// Package probe reports whether the host's KVM can run the loader.
package probe

import (
	"fmt"
	"io"
	"os"

	"github.com/bobuhiro11/goboot/cpuid"
	"github.com/bobuhiro11/goboot/kvm"
)

// Host queries /dev/kvm for its API version and the CPUID features a guest
// may use, and prints which of them are enabled.
func Host(w io.Writer) error {
	kvmFile, err := os.Open("/dev/kvm")
	if err != nil {
		return err
	}
	defer kvmFile.Close()

	kvmfd := kvmFile.Fd()

	if err := kvm.CheckAPIVersion(kvmfd); err != nil {
		return err
	}

	c := kvm.CPUID{Nent: uint32(len(kvm.CPUID{}.Entries))}
	if err := kvm.GetSupportedCPUID(kvmfd, &c); err != nil {
		return err
	}

	fmt.Fprintf(w, "KVM API version %d, %d CPUID entries\n", kvm.APIVersion, c.Nent)
	printFeatures(w, "Required", &c, cpuid.Required)
	printFeatures(w, "Optional", &c, cpuid.Optional)

	return cpuid.Check(&c)
}

func printFeatures(w io.Writer, title string, c *kvm.CPUID, features []cpuid.Feature) {
	enabled := []cpuid.Feature{}
	disabled := []cpuid.Feature{}

	for _, f := range features {
		if cpuid.Has(c, f) {
			enabled = append(enabled, f)
		} else {
			disabled = append(disabled, f)
		}
	}

	fmt.Fprintf(w, "%s.\n* Enabled:", title)

	for _, f := range enabled {
		fmt.Fprintf(w, " %s", f)
	}

	fmt.Fprintf(w, "\n* Disabled:")

	for _, f := range disabled {
		fmt.Fprintf(w, " %s", f)
	}

	fmt.Fprintf(w, "\n\n")
}
