package service

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// StudentService handles student accounts.
type StudentService struct {
	studentRepo *repository.StudentRepository
	bcryptCost  int
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo *repository.StudentRepository, bcryptCost int) *StudentService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &StudentService{studentRepo: studentRepo, bcryptCost: bcryptCost}
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, id)
}

// Create inserts a new student. password is hashed before storage.
func (s *StudentService) Create(ctx context.Context, student *model.Student, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	student.PasswordHash = string(hashed)
	return s.studentRepo.Create(ctx, student)
}

// ResetPassword replaces a student's password.
func (s *StudentService) ResetPassword(ctx context.Context, id int, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.studentRepo.UpdatePassword(ctx, id, string(hashed))
}
