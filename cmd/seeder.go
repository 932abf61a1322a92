package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/device"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/tenant"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with a demo tenant and devices for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if clearData {
			for _, table := range []string{"payment_verifications", "payments", "webhook_events", "invoices", "devices", "tenants"} {
				if err := gormDB.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear table %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		secret := "demo-events-secret"
		demoTenant := tenant.Tenant{
			ID:                  "demo",
			Name:                "Demo Fleet",
			EventsSecret:        &secret,
			EnforcementStrategy: tenant.StrategyYesterday,
			AutoCutOff:          true,
			CutOffHour:          6,
		}
		if err := upsertTenant(gormDB, demoTenant); err != nil {
			log.Fatalf("failed to seed tenant: %v", err)
		}
		fmt.Println("Seeded tenant:", demoTenant.ID)

		devices := []device.Device{
			{ID: "BIKE01", TenantID: demoTenant.ID, Active: true, DailyRateInCents: 500000},
			{ID: "BIKE02", TenantID: demoTenant.ID, Active: true, DailyRateInCents: 500000},
			{ID: "BIKE03", TenantID: demoTenant.ID, Active: true, DailyRateInCents: 650000, Exempt: true},
			{ID: "BIKE04", TenantID: demoTenant.ID, Active: false, DailyRateInCents: 500000},
		}
		for _, d := range devices {
			if err := upsertDevice(gormDB, d); err != nil {
				log.Fatalf("failed to seed device %s: %v", d.ID, err)
			}
			fmt.Println("Seeded device:", d.ID)
		}

		fmt.Println("Seed data loaded successfully")
	},
}

func upsertTenant(db *gorm.DB, t tenant.Tenant) error {
	var existing tenant.Tenant
	err := db.Where("id = ?", t.ID).First(&existing).Error
	if err == nil {
		fmt.Println("tenant already exists:", t.ID)
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return db.Create(&t).Error
}

func upsertDevice(db *gorm.DB, d device.Device) error {
	var existing device.Device
	err := db.Where("id = ?", d.ID).First(&existing).Error
	if err == nil {
		fmt.Println("device already exists:", d.ID)
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return db.Create(&d).Error
}
