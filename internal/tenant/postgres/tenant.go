package postgres

import (
	"gorm.io/gorm"

	tenantmodel "github.com/jfcalderon/rodarpay/internal/core/datamodel/tenant"
	tenantpkg "github.com/jfcalderon/rodarpay/internal/tenant"
)

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) tenantpkg.RepositoryAPI {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) GetByID(id string) (*tenantmodel.Tenant, error) {
	var t tenantmodel.Tenant
	err := r.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepository) GetAllWithAutoCutOff() ([]*tenantmodel.Tenant, error) {
	var tenants []*tenantmodel.Tenant
	err := r.db.Where("auto_cutoff = ?", true).Order("id").Find(&tenants).Error
	return tenants, err
}
