package identity

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fabxaccess/device-gateway/pkg/file"
)

var (
	ErrDeviceNotFound         = errors.New("device not found")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrToolNotFound           = errors.New("tool not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrUserNotFoundByIdentity = errors.New("user not found by identity")
	ErrUserLocked             = errors.New("user is locked")
	ErrIdentityMismatch       = errors.New("identities belong to different users")
	ErrInvalidSecondFactor    = errors.New("invalid second factor")
	ErrCardIDInUse            = errors.New("card id already in use")
)

// Device is a terminal as stored in the directory. Secrets are bcrypt hashes.
type Device struct {
	ID                     uuid.UUID         `json:"id"`
	Name                   string            `json:"name"`
	Mac                    string            `json:"mac"`
	SecretHash             string            `json:"secret_hash"`
	Background             string            `json:"background"`
	BackupBackendURL       string            `json:"backup_backend_url"`
	DesiredFirmwareVersion string            `json:"desired_firmware_version,omitempty"`
	ActualFirmwareVersion  string            `json:"actual_firmware_version,omitempty"`
	AttachedTools          map[int]uuid.UUID `json:"attached_tools"`
}

type Tool struct {
	ID                     uuid.UUID `json:"id"`
	Name                   string    `json:"name"`
	Type                   string    `json:"type"`
	Requires2FA            bool      `json:"requires_2fa"`
	Time                   int       `json:"time"`
	IdleState              string    `json:"idle_state"`
	Enabled                bool      `json:"enabled"`
	RequiredQualifications []string  `json:"required_qualifications,omitempty"`
}

type Card struct {
	CardID     string `json:"card_id"`
	SecretHash string `json:"secret_hash"`
}

type User struct {
	ID             uuid.UUID `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Locked         bool      `json:"locked,omitempty"`
	PhoneNrs       []string  `json:"phone_nrs,omitempty"`
	Cards          []Card    `json:"cards,omitempty"`
	PinHash        string    `json:"pin_hash,omitempty"`
	Qualifications []string  `json:"qualifications,omitempty"`
}

// Name is the display name written onto cards.
func (u User) Name() string {
	return u.FirstName + " " + u.LastName
}

// UserIdentity is what a user presents at a device. Empty fields are absent.
type UserIdentity struct {
	PhoneNr    string
	CardID     string
	CardSecret string
}

// Data is the on-disk layout of the directory file.
type Data struct {
	Devices []Device `json:"devices"`
	Tools   []Tool   `json:"tools"`
	Users   []User   `json:"users"`
}

// Directory is a file-backed store of devices, tools and users.
type Directory struct {
	filePath string
	fileOps  file.FileOperations

	mu   sync.RWMutex
	data Data
}

// NewDirectory creates a Directory persisted at filePath. Call Load before use.
func NewDirectory(filePath string, fileOps file.FileOperations) *Directory {
	return &Directory{
		filePath: filePath,
		fileOps:  fileOps,
	}
}

// NewDirectoryFromData creates an in-memory Directory that is never persisted.
func NewDirectoryFromData(data Data) *Directory {
	return &Directory{data: data}
}

// Load reads the directory file. A missing file yields an empty directory.
func (d *Directory) Load() error {
	exists, err := d.fileOps.IsFileExists(d.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", d.filePath, err)
	}

	var data Data
	if exists {
		if err := d.fileOps.ReadJsonFile(d.filePath, &data); err != nil {
			return fmt.Errorf("failed to load directory %s: %w", d.filePath, err)
		}
	}

	d.mu.Lock()
	d.data = data
	d.mu.Unlock()
	return nil
}

// save must be called with mu held.
func (d *Directory) save() error {
	if d.fileOps == nil {
		return nil
	}
	if err := d.fileOps.WriteJsonFile(d.filePath, d.data); err != nil {
		return fmt.Errorf("failed to save directory %s: %w", d.filePath, err)
	}
	return nil
}

// AuthenticateDevice returns the device registered with mac if secret matches.
func (d *Directory) AuthenticateDevice(mac, secret string) (Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i := slices.IndexFunc(d.data.Devices, func(dev Device) bool { return dev.Mac == mac })
	if i < 0 {
		return Device{}, ErrInvalidCredentials
	}
	device := d.data.Devices[i]
	if bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte(secret)) != nil {
		return Device{}, ErrInvalidCredentials
	}
	return device, nil
}

func (d *Directory) GetDevice(id uuid.UUID) (Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i := d.deviceIndex(id)
	if i < 0 {
		return Device{}, ErrDeviceNotFound
	}
	return d.data.Devices[i], nil
}

// AttachedTools resolves the tools attached to the pins of a device.
func (d *Directory) AttachedTools(deviceID uuid.UUID) (map[int]Tool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i := d.deviceIndex(deviceID)
	if i < 0 {
		return nil, ErrDeviceNotFound
	}

	tools := make(map[int]Tool, len(d.data.Devices[i].AttachedTools))
	for pin, toolID := range d.data.Devices[i].AttachedTools {
		j := d.toolIndex(toolID)
		if j < 0 {
			return nil, fmt.Errorf("tool %s attached to pin %d: %w", toolID, pin, ErrToolNotFound)
		}
		tools[pin] = d.data.Tools[j]
	}
	return tools, nil
}

// RecordFirmwareVersion stores the firmware version a device reported.
func (d *Directory) RecordFirmwareVersion(deviceID uuid.UUID, version string) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.deviceIndex(deviceID)
	if i < 0 {
		return Device{}, ErrDeviceNotFound
	}
	if d.data.Devices[i].ActualFirmwareVersion == version {
		return d.data.Devices[i], nil
	}
	d.data.Devices[i].ActualFirmwareVersion = version
	return d.data.Devices[i], d.save()
}

func (d *Directory) GetTool(id uuid.UUID) (Tool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i := d.toolIndex(id)
	if i < 0 {
		return Tool{}, ErrToolNotFound
	}
	return d.data.Tools[i], nil
}

func (d *Directory) GetUser(id uuid.UUID) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i := d.userIndex(id)
	if i < 0 {
		return User{}, ErrUserNotFound
	}
	return d.data.Users[i], nil
}

// FindUser resolves the user behind the presented identities. When both a
// card and a phone number are presented they must belong to the same user.
// Returns ok=false if no identity was presented at all.
func (d *Directory) FindUser(identity UserIdentity) (user User, ok bool, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var cardUser, phoneUser *User
	if identity.CardID != "" {
		i := slices.IndexFunc(d.data.Users, func(u User) bool { return u.hasCard(identity.CardID, identity.CardSecret) })
		if i < 0 {
			return User{}, true, ErrUserNotFoundByIdentity
		}
		cardUser = &d.data.Users[i]
		if cardUser.Locked {
			return User{}, true, ErrUserLocked
		}
	}
	if identity.PhoneNr != "" {
		i := slices.IndexFunc(d.data.Users, func(u User) bool { return slices.Contains(u.PhoneNrs, identity.PhoneNr) })
		if i < 0 {
			return User{}, true, ErrUserNotFoundByIdentity
		}
		phoneUser = &d.data.Users[i]
		if phoneUser.Locked {
			return User{}, true, ErrUserLocked
		}
	}

	switch {
	case cardUser != nil && phoneUser != nil && cardUser.ID != phoneUser.ID:
		return User{}, true, ErrIdentityMismatch
	case phoneUser != nil:
		return *phoneUser, true, nil
	case cardUser != nil:
		return *cardUser, true, nil
	}
	return User{}, false, nil
}

// ValidatePin checks pin against the pin of user userID.
func (d *Directory) ValidatePin(userID uuid.UUID, pin string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i := d.userIndex(userID)
	if i < 0 {
		return ErrUserNotFound
	}
	hash := d.data.Users[i].PinHash
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
		return ErrInvalidSecondFactor
	}
	return nil
}

// AddCardIdentity stores a card written for user userID.
func (d *Directory) AddCardIdentity(userID uuid.UUID, cardID, cardSecret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(cardSecret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash card secret: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.userIndex(userID)
	if i < 0 {
		return ErrUserNotFound
	}
	for _, u := range d.data.Users {
		if slices.ContainsFunc(u.Cards, func(c Card) bool { return c.CardID == cardID }) {
			return ErrCardIDInUse
		}
	}

	d.data.Users[i].Cards = append(d.data.Users[i].Cards, Card{CardID: cardID, SecretHash: string(hash)})
	return d.save()
}

func (u User) hasCard(cardID, secret string) bool {
	for _, card := range u.Cards {
		if card.CardID == cardID {
			return bcrypt.CompareHashAndPassword([]byte(card.SecretHash), []byte(secret)) == nil
		}
	}
	return false
}

func (d *Directory) deviceIndex(id uuid.UUID) int {
	return slices.IndexFunc(d.data.Devices, func(dev Device) bool { return dev.ID == id })
}

func (d *Directory) toolIndex(id uuid.UUID) int {
	return slices.IndexFunc(d.data.Tools, func(t Tool) bool { return t.ID == id })
}

func (d *Directory) userIndex(id uuid.UUID) int {
	return slices.IndexFunc(d.data.Users, func(u User) bool { return u.ID == id })
}
