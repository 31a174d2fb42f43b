package smart

import "care-portal/internal/utils"

const nonceBytes = 32

func generateNonce() (string, error) {
	return utils.RandomString(nonceBytes)
}
