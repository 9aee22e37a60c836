// Package contact implements the contact registry: trust anchors for
// envelope verification, key resolution against the gateway, blocking,
// and the encrypted contacts backup blob.
//
// Public keys are immutable for an identity. A contact whose keys are
// still the all-zero placeholder is "unresolved" and blocks outbound
// encryption until real keys are learned.
package contact
