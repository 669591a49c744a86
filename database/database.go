package database

import (
	"github.com/rpupo63/blog-backend/models"
	"gorm.io/gorm"
)

type Database struct {
	db            *gorm.DB
	postRepo      *PostRepo
	userRepo      *UserRepo
	failedJobRepo *FailedJobRepo
}

// New initializes a new Database struct with each repository using a shared GORM database instance
func New(db *gorm.DB) Database {
	return Database{
		db:            db,
		postRepo:      NewPostRepo(db),
		userRepo:      NewUserRepo(db),
		failedJobRepo: NewFailedJobRepo(db),
	}
}

// Accessor methods for each repository

func (d Database) PostRepo() *PostRepo {
	return d.postRepo
}

func (d Database) UserRepo() *UserRepo {
	return d.userRepo
}

func (d Database) FailedJobRepo() *FailedJobRepo {
	return d.failedJobRepo
}

// Migrate creates or alters every table so it matches the models.
func (d Database) Migrate() error {
	return d.db.AutoMigrate(models.All()...)
}

// Ping checks the connection with a trivial query.
func (d Database) Ping() error {
	var result int
	return d.db.Raw("SELECT 1").Scan(&result).Error
}
