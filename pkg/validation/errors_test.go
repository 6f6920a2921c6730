package validation

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestValidation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validation Errors Suite")
}

var _ = Describe("ValidationError", func() {
	var err *ValidationError

	BeforeEach(func() {
		err = NewValidationError("loader", "validation failed")
	})

	It("creates an error with resource and message", func() {
		Expect(err.Resource).To(Equal("loader"))
		Expect(err.Message).To(Equal("validation failed"))
		Expect(err.FieldErrors).NotTo(BeNil())
		Expect(err.FieldErrors).To(BeEmpty())
	})

	It("accumulates field errors", func() {
		err.AddFieldError("minIntervalSeconds", "must be between 1 and 86400")
		err.AddFieldError("loaderCode", "must be uppercase alphanumeric")

		Expect(err.FieldErrors).To(HaveLen(2))
		Expect(err.FieldErrors["minIntervalSeconds"]).To(Equal("must be between 1 and 86400"))
	})

	It("overwrites an existing field error", func() {
		err.AddFieldError("loaderCode", "first")
		err.AddFieldError("loaderCode", "second")

		Expect(err.FieldErrors).To(HaveLen(1))
		Expect(err.FieldErrors["loaderCode"]).To(Equal("second"))
	})
})

var _ = Describe("RFC7807Problem", func() {
	It("builds a 409 conflict", func() {
		p := NewConflict("duplicate signal")
		Expect(p.Status).To(Equal(409))
		Expect(p.Error()).To(ContainSubstring("duplicate signal"))
	})

	It("builds a 404 not found", func() {
		p := NewNotFound("loader SIG_A not found")
		Expect(p.Status).To(Equal(404))
	})

	It("builds a 400 bad request", func() {
		p := NewBadRequest("invalid timestamp")
		Expect(p.Status).To(Equal(400))
	})
})
