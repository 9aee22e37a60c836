// Package attachment encrypts file content under a random content key
// and wraps that key to the recipient. The ciphertext travels through
// presigned blob storage URLs; only the small wrapped key rides inside
// the signed message envelope, so attachment size never inflates the
// message frame.
package attachment
