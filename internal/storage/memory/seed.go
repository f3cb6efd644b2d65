package memory

import "training-service/internal/models"

// SeedDemo fills the directory with one center for the local environment.
func SeedDemo(s *Storage) {
	s.AddCenter(models.Center{
		ID:            "center-1",
		Name:          "Central",
		ManagerID:     "manager-1",
		Timezone:      "UTC",
		WorkStartHour: 8,
		WorkEndHour:   22,
	})
	s.AddCourt(models.Court{ID: "court-1", CenterID: "center-1", Name: "Court 1"})
	s.AddCourt(models.Court{ID: "court-2", CenterID: "center-1", Name: "Court 2", WorkStartHour: 10, WorkEndHour: 20})

	s.AddTrainingType(models.TrainingType{ID: "individual", Name: "Individual", Code: models.TrainingIndividual, MinClients: 1, MaxClients: 1})
	s.AddTrainingType(models.TrainingType{ID: "split", Name: "Split", Code: models.TrainingSplit, MinClients: 2, MaxClients: 2})
	s.AddTrainingType(models.TrainingType{ID: "group", Name: "Group", Code: models.TrainingGroup, MinClients: 3, MaxClients: 8})

	s.AttachTrainer("trainer-1", "center-1")

	s.SetCenterPrice("center-1", "individual", 30000)
	s.SetCenterPrice("center-1", "split", 20000)
	s.SetCenterPrice("center-1", "group", 10000)
	s.SetTrainerRate("trainer-1", "center-1", "individual", 15000)
	s.SetTrainerRate("trainer-1", "center-1", "split", 10000)
	s.SetTrainerRate("trainer-1", "center-1", "group", 5000)
}
