package database

import (
	"log"

	"vetclinic-backend/internal/config"
	"vetclinic-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Init(cfg *config.Config) {
	var err error

	DB, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}

	err = DB.AutoMigrate(
		&models.Clinic{},
		&models.User{},
		&models.Product{},
		&models.Batch{},
		&models.StockMovement{},
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.AuditLog{},
	)
	if err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	// Stock movements are append-only; revoke the ability to rewrite history at the
	// database level as well. The statement is idempotent.
	if err := DB.Exec(`
		CREATE OR REPLACE FUNCTION stock_movements_append_only() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'stock_movements is append-only';
		END;
		$$ LANGUAGE plpgsql`).Error; err != nil {
		log.Printf("could not create append-only guard function: %v", err)
	} else {
		DB.Exec("DROP TRIGGER IF EXISTS trg_stock_movements_append_only ON stock_movements")
		if err := DB.Exec(`
			CREATE TRIGGER trg_stock_movements_append_only
			BEFORE UPDATE OR DELETE ON stock_movements
			FOR EACH ROW EXECUTE FUNCTION stock_movements_append_only()`).Error; err != nil {
			log.Printf("could not install append-only trigger: %v", err)
		}
	}

	log.Println("Database connected. Migration complete.")
}
