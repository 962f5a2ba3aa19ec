package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fabxaccess/device-gateway/pkg/file"
)

func mustHash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func testData(t *testing.T) Data {
	t.Helper()
	tool := Tool{ID: uuid.New(), Name: "Laser", Type: "UNLOCK", Time: 300, IdleState: "IDLE_LOW", Enabled: true}
	return Data{
		Devices: []Device{{
			ID:            uuid.New(),
			Name:          "Workshop terminal",
			Mac:           "AABB11CC22DD",
			SecretHash:    mustHash(t, "device-secret"),
			AttachedTools: map[int]uuid.UUID{3: tool.ID},
		}},
		Tools: []Tool{tool},
		Users: []User{
			{
				ID:        uuid.New(),
				FirstName: "Ada",
				LastName:  "Lovelace",
				PhoneNrs:  []string{"+49123"},
				Cards:     []Card{{CardID: "11223344556677", SecretHash: mustHash(t, "card-secret")}},
				PinHash:   mustHash(t, "1234"),
			},
			{ID: uuid.New(), FirstName: "Grace", LastName: "Hopper", PhoneNrs: []string{"+49555"}},
			{ID: uuid.New(), FirstName: "Locked", LastName: "Out", PhoneNrs: []string{"+49999"}, Locked: true},
		},
	}
}

// TestDirectory_AuthenticateDevice tests device lookup by mac and secret.
func TestDirectory_AuthenticateDevice(t *testing.T) {
	data := testData(t)
	d := NewDirectoryFromData(data)

	device, err := d.AuthenticateDevice("AABB11CC22DD", "device-secret")
	require.NoError(t, err)
	assert.Equal(t, data.Devices[0].ID, device.ID)

	_, err = d.AuthenticateDevice("AABB11CC22DD", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = d.AuthenticateDevice("000000000000", "device-secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDirectory_AttachedTools(t *testing.T) {
	data := testData(t)
	d := NewDirectoryFromData(data)

	tools, err := d.AttachedTools(data.Devices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]Tool{3: data.Tools[0]}, tools)

	_, err = d.AttachedTools(uuid.New())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestDirectory_AttachedToolsDanglingReference(t *testing.T) {
	data := testData(t)
	data.Devices[0].AttachedTools[4] = uuid.New()
	d := NewDirectoryFromData(data)

	_, err := d.AttachedTools(data.Devices[0].ID)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestDirectory_FindUser(t *testing.T) {
	data := testData(t)
	d := NewDirectoryFromData(data)
	ada := data.Users[0]

	tests := []struct {
		name     string
		identity UserIdentity
		user     uuid.UUID
		ok       bool
		err      error
	}{
		{"no identity", UserIdentity{}, uuid.Nil, false, nil},
		{"phone", UserIdentity{PhoneNr: "+49123"}, ada.ID, true, nil},
		{"card", UserIdentity{CardID: "11223344556677", CardSecret: "card-secret"}, ada.ID, true, nil},
		{"phone and card", UserIdentity{PhoneNr: "+49123", CardID: "11223344556677", CardSecret: "card-secret"}, ada.ID, true, nil},
		{"card with wrong secret", UserIdentity{CardID: "11223344556677", CardSecret: "guess"}, uuid.Nil, true, ErrUserNotFoundByIdentity},
		{"unknown phone", UserIdentity{PhoneNr: "+1"}, uuid.Nil, true, ErrUserNotFoundByIdentity},
		{"locked", UserIdentity{PhoneNr: "+49999"}, uuid.Nil, true, ErrUserLocked},
		{"mismatch", UserIdentity{PhoneNr: "+49555", CardID: "11223344556677", CardSecret: "card-secret"}, uuid.Nil, true, ErrIdentityMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, ok, err := d.FindUser(tt.identity)
			assert.Equal(t, tt.ok, ok)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, user.ID)
		})
	}
}

func TestDirectory_ValidatePin(t *testing.T) {
	data := testData(t)
	d := NewDirectoryFromData(data)

	assert.NoError(t, d.ValidatePin(data.Users[0].ID, "1234"))
	assert.ErrorIs(t, d.ValidatePin(data.Users[0].ID, "4321"), ErrInvalidSecondFactor)
	assert.ErrorIs(t, d.ValidatePin(data.Users[1].ID, ""), ErrInvalidSecondFactor)
	assert.ErrorIs(t, d.ValidatePin(uuid.New(), "1234"), ErrUserNotFound)
}

// TestDirectory_PersistsChanges tests that updates are written to the
// directory file and survive a reload.
func TestDirectory_PersistsChanges(t *testing.T) {
	// Setup
	data := testData(t)
	path := filepath.Join(t.TempDir(), "directory.json")
	fileOps := file.NewFileService()
	require.NoError(t, fileOps.WriteJsonFile(path, data))

	d := NewDirectory(path, fileOps)
	require.NoError(t, d.Load())
	grace := data.Users[1]

	// Execute
	require.NoError(t, d.AddCardIdentity(grace.ID, "AABBCCDDEEFF00", "new-secret"))
	_, err := d.RecordFirmwareVersion(data.Devices[0].ID, "1.4.2")
	require.NoError(t, err)

	// Assert
	reloaded := NewDirectory(path, fileOps)
	require.NoError(t, reloaded.Load())

	user, ok, err := reloaded.FindUser(UserIdentity{CardID: "AABBCCDDEEFF00", CardSecret: "new-secret"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, grace.ID, user.ID)

	device, err := reloaded.GetDevice(data.Devices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", device.ActualFirmwareVersion)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDirectory_AddCardIdentityRejectsDuplicateCardID(t *testing.T) {
	data := testData(t)
	d := NewDirectoryFromData(data)

	err := d.AddCardIdentity(data.Users[1].ID, "11223344556677", "other-secret")
	assert.ErrorIs(t, err, ErrCardIDInUse)

	err = d.AddCardIdentity(uuid.New(), "AABBCCDDEEFF00", "secret")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDirectory_LoadMissingFile(t *testing.T) {
	d := NewDirectory(filepath.Join(t.TempDir(), "missing.json"), file.NewFileService())

	require.NoError(t, d.Load())

	_, err := d.GetDevice(uuid.New())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestDirectory_LoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	err := NewDirectory(path, file.NewFileService()).Load()

	assert.Error(t, err)
}
