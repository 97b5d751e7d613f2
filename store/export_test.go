// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

// Retained exposes the number of entries a subscription stream still holds.
func Retained(sub *Subscription) int {
	return sub.stream.retained()
}
