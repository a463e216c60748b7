package vtable_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestVtable(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Version Table Suite")
}
