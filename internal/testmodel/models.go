// Package testmodel provides the GORM models and seed data shared by the
// package tests.
package testmodel

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Namespace is the schema namespace used by the tests.
const Namespace = "Demo"

// Address is stored in columns of the owning row.
type Address struct {
	Street  string
	City    string
	Country string
}

// Employee is the main fixture entity.
type Employee struct {
	ID      string `gorm:"primaryKey"`
	Name    string `gorm:"not null;size:100"`
	Age     int
	Salary  decimal.Decimal
	HiredAt time.Time
	Address Address `gorm:"embedded;embeddedPrefix:address_"`
	RoomID  *string
	Room    *Room
	Teams   []Team `gorm:"many2many:team_members"`
}

// Room belongs to a building and hosts employees.
type Room struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	Seats      int
	BuildingID string
	Building   *Building
	Employees  []Employee `gorm:"foreignKey:RoomID"`
}

// Building has many rooms.
type Building struct {
	ID    string `gorm:"primaryKey"`
	Name  string
	City  string
	Rooms []Room `gorm:"foreignKey:BuildingID"`
}

// Team groups employees.
type Team struct {
	ID      int64 `gorm:"primaryKey"`
	Name    string
	Members []Employee `gorm:"many2many:team_members"`
}

// Models returns the fixture models in registration order.
func Models() []any {
	return []any{&Employee{}, &Room{}, &Building{}, &Team{}}
}

// EmployeeCount is the number of seeded employees.
const EmployeeCount = 25

// Open returns a migrated in-memory database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get database handle: %v", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

// OpenSeeded returns a migrated in-memory database filled by Seed.
func OpenSeeded(t testing.TB) *gorm.DB {
	t.Helper()
	db := Open(t)
	if err := Seed(db); err != nil {
		t.Fatalf("Failed to seed database: %v", err)
	}
	return db
}

// HiredAt returns the hiring date of the employee with index i (1-based).
func HiredAt(i int) time.Time {
	return time.Date(2020, time.January, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// Seed inserts one building, two rooms, EmployeeCount employees and two teams.
// Employees with odd IDs sit in R1, even IDs in R2, except the last one which
// has no room.
func Seed(db *gorm.DB) error {
	building := Building{ID: "B1", Name: "Headquarters", City: "Berlin"}
	if err := db.Create(&building).Error; err != nil {
		return err
	}
	rooms := []Room{
		{ID: "R1", Name: "Atlas", Seats: 4, BuildingID: "B1"},
		{ID: "R2", Name: "Borealis", Seats: 8, BuildingID: "B1"},
	}
	if err := db.Create(&rooms).Error; err != nil {
		return err
	}

	employees := make([]Employee, 0, EmployeeCount)
	for i := 1; i <= EmployeeCount; i++ {
		e := Employee{
			ID:      fmt.Sprintf("%d", i),
			Name:    fmt.Sprintf("Employee %02d", i),
			Age:     20 + i,
			Salary:  decimal.NewFromInt(int64(1000 + i*100)),
			HiredAt: HiredAt(i),
			Address: Address{Street: fmt.Sprintf("Main Street %d", i), City: "Berlin", Country: "DE"},
		}
		if i%2 == 0 {
			e.Address.City = "Hamburg"
		}
		if i < EmployeeCount {
			room := "R1"
			if i%2 == 0 {
				room = "R2"
			}
			e.RoomID = &room
		}
		employees = append(employees, e)
	}
	if err := db.Create(&employees).Error; err != nil {
		return err
	}

	teams := []Team{
		{ID: 1, Name: "Core", Members: []Employee{employees[0], employees[1], employees[2]}},
		{ID: 2, Name: "Ops", Members: []Employee{employees[2], employees[3]}},
	}
	return db.Omit("Members.*").Create(&teams).Error
}
