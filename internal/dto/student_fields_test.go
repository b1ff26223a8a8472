package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizeToMap(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	raw, err := NormalizeStudentJSON([]byte(body))
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestCanonicalStudentField(t *testing.T) {
	for _, key := range []string{"full_name", "fullName", "Full Name", "nama_lengkap", "NAMA"} {
		canonical, ok := CanonicalStudentField(key)
		require.True(t, ok, key)
		assert.Equal(t, "full_name", canonical, key)
	}
	_, ok := CanonicalStudentField("favourite_colour")
	assert.False(t, ok)
}

func TestNormalizeStudentJSONResolvesConflictsInFixedOrder(t *testing.T) {
	cases := []struct {
		name string
		body string
		want interface{}
	}{
		{"alias table order", `{"nama":"Nama","name":"Name"}`, "Name"},
		{"canonical over alias", `{"nama_lengkap":"Alias","fullName":"Camel"}`, "Camel"},
		{"exact canonical over camel case", `{"fullName":"Camel","full_name":"Snake"}`, "Snake"},
		{"value over null", `{"full_name":null,"nama":"Nama"}`, "Nama"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// map iteration order varies between runs, so repeat to catch order dependence
			for i := 0; i < 50; i++ {
				out := normalizeToMap(t, tc.body)
				assert.Equal(t, tc.want, out["full_name"])
			}
		})
	}
}

func TestNormalizeStudentJSONDropsUnknownKeys(t *testing.T) {
	out := normalizeToMap(t, `{"jenisKelamin":"L","tenant":"other","instansi_id":"x"}`)
	assert.Equal(t, map[string]interface{}{"gender": "L"}, out)
}

func TestPayloadFromRow(t *testing.T) {
	payload, err := PayloadFromRow(map[string]string{
		"nik":        " 3201010101010001 ",
		"full_name":  "Budi",
		"gender":     "laki-laki",
		"birth_date": "17/08/2008",
		"is_active":  "tidak",
		"nisn":       "",
	})
	require.NoError(t, err)
	assert.Equal(t, "3201010101010001", *payload.NIK)
	assert.Equal(t, "L", *payload.Gender)
	assert.Equal(t, "2008-08-17", payload.BirthDate.Format("2006-01-02"))
	assert.False(t, *payload.IsActive)
	assert.Nil(t, payload.NISN)

	_, err = PayloadFromRow(map[string]string{"birth_date": "kemarin"})
	assert.Error(t, err)
}
