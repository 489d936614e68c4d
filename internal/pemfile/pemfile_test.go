// SPDX-License-Identifier: Apache-2.0

package pemfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDevGeneratesUsableCertificate(t *testing.T) {
	cert, err := Load(true, "", "")
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "sgrok dev", cert.Leaf.Subject.CommonName)
	assert.Contains(t, cert.Leaf.DNSNames, "localhost")
}

func TestLoadProdMissingFilesFails(t *testing.T) {
	_, err := Load(false, "/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}

func TestLoadDevGeneratesFreshKeyEachCall(t *testing.T) {
	a, err := Load(true, "", "")
	require.NoError(t, err)
	b, err := Load(true, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.Leaf.SerialNumber, b.Leaf.SerialNumber)
}
