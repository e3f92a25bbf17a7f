package roster

import "github.com/BTreeMap/AvatarStudy/internal/models"

var defaultCharacters = []models.Character{
	// practice
	{ID: "8e14f716-656c-11ef-9d91-42010a7be011", Name: "Harry", LLM: "LLM1", Conduct: "C", Neurodiversity: "NT"},
	{ID: "bc5688ec-656c-11ef-b1a4-42010a7be011", Name: "James", LLM: "LLM1", Conduct: "C", Neurodiversity: "NT"},
	// main study
	{ID: "818d2b6e-6619-11ef-8904-42010a7be011", Name: "Antoiane", LLM: "LLM4", Conduct: "C", Neurodiversity: "NT"},
	{ID: "a884e968-661a-11ef-93da-42010a7be011", Name: "Ashline", LLM: "LLM2", Conduct: "C", Neurodiversity: "ND"},
	{ID: "89cc6766-661b-11ef-85d8-42010a7be011", Name: "Charleen", LLM: "LLM1", Conduct: "NC", Neurodiversity: "ND"},
	{ID: "b75d8c36-6626-11ef-ab22-42010a7be011", Name: "Jax", LLM: "LLM3", Conduct: "NC", Neurodiversity: "NT"},
	{ID: "ea1c4d1e-6627-11ef-93da-42010a7be011", Name: "Jessie", LLM: "LLM2", Conduct: "NC", Neurodiversity: "NT"},
	{ID: "a4dff092-64a7-11ef-a91e-42010a7be011", Name: "Alfred", LLM: "LLM4", Conduct: "NC", Neurodiversity: "ND"},
	{ID: "e9ac9844-6617-11ef-b5d4-42010a7be011", Name: "Amber", LLM: "LLM4", Conduct: "C", Neurodiversity: "ND"},
	{ID: "7e114f7a-661d-11ef-ab22-42010a7be011", Name: "Charlene", LLM: "LLM2", Conduct: "NC", Neurodiversity: "ND"},
	{ID: "850067ac-63b2-11ef-be21-42010a7be011", Name: "David", LLM: "LLM1", Conduct: "C", Neurodiversity: "ND"},
	{ID: "8dc2e6c6-661e-11ef-8a10-42010a7be011", Name: "Devon", LLM: "LLM3", Conduct: "NC", Neurodiversity: "ND"},
	{ID: "7625aa3e-661f-11ef-864f-42010a7be011", Name: "Disire", LLM: "LLM1", Conduct: "NC", Neurodiversity: "NT"},
	{ID: "6d227976-6624-11ef-8904-42010a7be011", Name: "India", LLM: "LLM3", Conduct: "C", Neurodiversity: "NT"},
	{ID: "e841ed80-6624-11ef-93da-42010a7be011", Name: "Issac", LLM: "LLM2", Conduct: "C", Neurodiversity: "NT"},
	{ID: "26aa1774-6629-11ef-a179-42010a7be011", Name: "Matthew", LLM: "LLM3", Conduct: "C", Neurodiversity: "ND"},
	{ID: "2cb1c924-662d-11ef-8a10-42010a7be011", Name: "Ronald", LLM: "LLM4", Conduct: "NC", Neurodiversity: "NT"},
	{ID: "a8a061d4-662e-11ef-ab87-42010a7be011", Name: "Sadie", LLM: "LLM1", Conduct: "C", Neurodiversity: "NT"},
}
