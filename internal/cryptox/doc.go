// Package cryptox contains the field-level encryption codec, the key
// material provider that feeds it, and the bcrypt password hasher.
//
// Encrypted fields are stored as "<iv_hex>:<tag_hex>:<ciphertext_hex>".
// All decryption failures wrap common.ErrDecryptionFailed.
package cryptox
