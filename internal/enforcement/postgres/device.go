package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/device"
	enforcementpkg "github.com/jfcalderon/rodarpay/internal/enforcement"
	invoicingpkg "github.com/jfcalderon/rodarpay/internal/invoicing"
)

type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

var (
	_ enforcementpkg.DeviceRepositoryAPI = (*DeviceRepository)(nil)
	_ invoicingpkg.DeviceRepositoryAPI   = (*DeviceRepository)(nil)
)

func (r *DeviceRepository) GetByID(id string) (*device.Device, error) {
	var d device.Device
	err := r.db.Where("id = ?", id).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeviceRepository) GetActive() ([]*device.Device, error) {
	var devices []*device.Device
	err := r.db.Where("active = ?", true).Order("id").Find(&devices).Error
	return devices, err
}

func (r *DeviceRepository) GetActiveByTenant(tenantID string) ([]*device.Device, error) {
	var devices []*device.Device
	err := r.db.Where("active = ? AND tenant_id = ?", true, tenantID).Order("id").Find(&devices).Error
	return devices, err
}

func (r *DeviceRepository) SetCutOffStatus(deviceID string, status int16) error {
	return r.db.Model(&device.Device{}).
		Where("id = ?", deviceID).
		Updates(map[string]interface{}{"cutoff_status": status, "updated_at": time.Now().UTC()}).Error
}
