// Package validation holds the checks run before a checkout mutates
// anything. Every function is pure: inputs in, a typed error or a value
// out, no storage access.
//
// Rules run in a fixed order:
//  1. ValidateInput: malformed input short-circuits with INVALID_INPUT
//  2. empty cart (EMPTY_CART)
//  3. CheckStock against observed snapshots (INSUFFICIENT_STOCK)
//  4. Price, which bounds the discount (INVALID_DISCOUNT)
//  5. CheckCredit for credit sales (INSUFFICIENT_CREDIT)
package validation
