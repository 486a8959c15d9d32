package vault

// EncryptLegacy exposes the two-field writer to external tests.
func (v *Vault) EncryptLegacy(plaintext string) (string, error) {
	return v.encryptLegacy(plaintext)
}
